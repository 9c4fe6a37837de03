// Package state manages the durable record of sessions, agents, and tasks
// as JSON documents on disk.
//
// Every mutation is a read-modify-write of the single current document for
// that entity, serialized by a per-document mutex. Execution is single-host,
// so a mutex is sufficient; there is deliberately no database here. A
// missing document is treated as empty rather than an error, to tolerate
// first-use.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"swarm/pkg/utils"
)

// ErrNotFound is returned when a named agent or task does not exist.
var ErrNotFound = errors.New("state: not found")

// Document names within a session directory.
const (
	sessionDoc = "session.json"
	agentsDoc  = "agents.json"
	tasksDoc   = "tasks.json"
)

// Store is a session-scoped state store. Multiple stores may coexist in one
// process (one per session), which keeps tests hermetic.
type Store struct {
	dir    string
	locks  map[string]*sync.Mutex
	locksM sync.Mutex
}

// NewStore creates a store rooted at baseDir/sessionID, creating the
// directory if needed. Failure to create the directory is one of the few
// unrecoverable conditions in the system.
func NewStore(baseDir, sessionID string) (*Store, error) {
	dir := filepath.Join(baseDir, utils.SanitizeIdentifier(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the session state directory.
func (s *Store) Dir() string {
	return s.dir
}

// docLock returns the mutex guarding one document, creating it on first use.
func (s *Store) docLock(doc string) *sync.Mutex {
	s.locksM.Lock()
	defer s.locksM.Unlock()

	mu, ok := s.locks[doc]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[doc] = mu
	}
	return mu
}

// readDoc unmarshals a document into dest. A missing file leaves dest
// untouched and returns nil.
func (s *Store) readDoc(doc string, dest any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, doc))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", doc, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to parse %s: %w", doc, err)
	}
	return nil
}

func (s *Store) writeDoc(doc string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", doc, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, doc), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", doc, err)
	}
	return nil
}

// CreateSession writes the initial session document.
func (s *Store) CreateSession(id, goal, mode string) (*Session, error) {
	mu := s.docLock(sessionDoc)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	session := &Session{
		ID:        id,
		Goal:      goal,
		Mode:      mode,
		Status:    SessionInitializing,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.writeDoc(sessionDoc, session); err != nil {
		return nil, err
	}
	return session, nil
}

// LoadSession returns the current session document, or nil if none exists.
func (s *Store) LoadSession() (*Session, error) {
	mu := s.docLock(sessionDoc)
	mu.Lock()
	defer mu.Unlock()

	var session *Session
	if err := s.readDoc(sessionDoc, &session); err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateSession applies fn to the session document under its lock.
func (s *Store) UpdateSession(fn func(*Session)) error {
	mu := s.docLock(sessionDoc)
	mu.Lock()
	defer mu.Unlock()

	var session *Session
	if err := s.readDoc(sessionDoc, &session); err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("update session: %w", ErrNotFound)
	}
	fn(session)
	session.UpdatedAt = time.Now().UTC()
	return s.writeDoc(sessionDoc, session)
}

// RegisterAgent adds an agent to the session in the registered state.
func (s *Store) RegisterAgent(agentID, persona, role, workspace string) (*Agent, error) {
	mu := s.docLock(agentsDoc)
	mu.Lock()
	defer mu.Unlock()

	agents := make(map[string]*Agent)
	if err := s.readDoc(agentsDoc, &agents); err != nil {
		return nil, err
	}
	if _, exists := agents[agentID]; exists {
		return nil, fmt.Errorf("agent %s already registered", agentID)
	}

	agent := &Agent{
		ID:        agentID,
		Persona:   persona,
		Role:      role,
		Status:    AgentRegistered,
		Workspace: workspace,
		UpdatedAt: time.Now().UTC(),
	}
	agents[agentID] = agent
	if err := s.writeDoc(agentsDoc, agents); err != nil {
		return nil, err
	}
	return agent, nil
}

// UnregisterAgent removes an agent at shutdown. Removing an unknown agent
// is a no-op so shutdown stays idempotent.
func (s *Store) UnregisterAgent(agentID string) error {
	mu := s.docLock(agentsDoc)
	mu.Lock()
	defer mu.Unlock()

	agents := make(map[string]*Agent)
	if err := s.readDoc(agentsDoc, &agents); err != nil {
		return err
	}
	if _, exists := agents[agentID]; !exists {
		return nil
	}
	delete(agents, agentID)
	return s.writeDoc(agentsDoc, agents)
}

// UpdateAgentStatus transitions an agent and records run accounting.
// iterationsDelta and costDelta accumulate onto the agent's counters.
func (s *Store) UpdateAgentStatus(agentID string, status AgentStatus, iterationsDelta int, costDelta float64) error {
	mu := s.docLock(agentsDoc)
	mu.Lock()
	defer mu.Unlock()

	agents := make(map[string]*Agent)
	if err := s.readDoc(agentsDoc, &agents); err != nil {
		return err
	}
	agent, exists := agents[agentID]
	if !exists {
		return fmt.Errorf("update agent %s: %w", agentID, ErrNotFound)
	}
	agent.Status = status
	agent.Iterations += iterationsDelta
	agent.CostUSD += costDelta
	agent.UpdatedAt = time.Now().UTC()
	return s.writeDoc(agentsDoc, agents)
}

// GetAgent returns one agent by ID.
func (s *Store) GetAgent(agentID string) (*Agent, error) {
	mu := s.docLock(agentsDoc)
	mu.Lock()
	defer mu.Unlock()

	agents := make(map[string]*Agent)
	if err := s.readDoc(agentsDoc, &agents); err != nil {
		return nil, err
	}
	agent, exists := agents[agentID]
	if !exists {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return agent, nil
}

// ListAgents returns all agents sorted by ID for stable snapshots.
func (s *Store) ListAgents() ([]*Agent, error) {
	mu := s.docLock(agentsDoc)
	mu.Lock()
	defer mu.Unlock()

	agents := make(map[string]*Agent)
	if err := s.readDoc(agentsDoc, &agents); err != nil {
		return nil, err
	}
	list := make([]*Agent, 0, len(agents))
	for _, a := range agents {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// CreateTask appends a new pending task and returns its ID.
func (s *Store) CreateTask(taskType, agentID, description string, priority int, payload map[string]any) (string, error) {
	mu := s.docLock(tasksDoc)
	mu.Lock()
	defer mu.Unlock()

	var tasks []*Task
	if err := s.readDoc(tasksDoc, &tasks); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	task := &Task{
		ID:          "task-" + utils.ShortID(),
		Type:        taskType,
		AgentID:     agentID,
		Description: description,
		Priority:    priority,
		Payload:     payload,
		Status:      TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tasks = append(tasks, task)
	if err := s.writeDoc(tasksDoc, tasks); err != nil {
		return "", err
	}
	return task.ID, nil
}

// UpdateTaskStatus transitions a task and attaches its result.
func (s *Store) UpdateTaskStatus(taskID string, status TaskStatus, result map[string]any) error {
	mu := s.docLock(tasksDoc)
	mu.Lock()
	defer mu.Unlock()

	var tasks []*Task
	if err := s.readDoc(tasksDoc, &tasks); err != nil {
		return err
	}
	for _, task := range tasks {
		if task.ID == taskID {
			task.Status = status
			if result != nil {
				task.Result = result
			}
			task.UpdatedAt = time.Now().UTC()
			return s.writeDoc(tasksDoc, tasks)
		}
	}
	return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
}

// NextPendingTask returns the most urgent pending task for an agent: lowest
// priority number first, creation order breaking ties. Returns nil when the
// agent has no pending work. Reading is idempotent; the task stays pending
// until UpdateTaskStatus moves it.
func (s *Store) NextPendingTask(agentID string) (*Task, error) {
	mu := s.docLock(tasksDoc)
	mu.Lock()
	defer mu.Unlock()

	var tasks []*Task
	if err := s.readDoc(tasksDoc, &tasks); err != nil {
		return nil, err
	}

	var best *Task
	for _, task := range tasks {
		if task.AgentID != agentID || task.Status != TaskPending {
			continue
		}
		// Slice order is creation order, so strict < keeps the older task
		// on priority ties.
		if best == nil || task.Priority < best.Priority {
			best = task
		}
	}
	return best, nil
}

// ListTasks returns the full task audit trail in creation order.
func (s *Store) ListTasks() ([]*Task, error) {
	mu := s.docLock(tasksDoc)
	mu.Lock()
	defer mu.Unlock()

	var tasks []*Task
	if err := s.readDoc(tasksDoc, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// TaskQueueCounts returns task counts per status for the status snapshot.
func (s *Store) TaskQueueCounts() (map[TaskStatus]int, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	counts := make(map[TaskStatus]int)
	for _, task := range tasks {
		counts[task.Status]++
	}
	return counts, nil
}
