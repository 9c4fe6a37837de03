package state

import "time"

// SessionStatus tracks one coordination run from start to shutdown.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionReady        SessionStatus = "ready"
	SessionRunning      SessionStatus = "running"
	SessionCompleted    SessionStatus = "completed"
	SessionShutdown     SessionStatus = "shutdown"
)

// Session is one coordination run.
type Session struct {
	ID        string        `json:"id"`
	Goal      string        `json:"goal"`
	Mode      string        `json:"mode"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	// Cycle counters surfaced for observability; the pipeline owns them.
	BugFixCycles int  `json:"bugfix_cycles"`
	ReviewCycles int  `json:"review_cycles"`
	Approved     bool `json:"approved"`
}

// AgentStatus tracks a persona instance through its lifecycle.
type AgentStatus string

const (
	AgentRegistered AgentStatus = "registered"
	AgentRunning    AgentStatus = "running"
	AgentWaiting    AgentStatus = "waiting"
	AgentStopped    AgentStatus = "stopped"
	AgentCompleted  AgentStatus = "completed"
	AgentError      AgentStatus = "error"
)

// Agent is one persona instance participating in the session.
type Agent struct {
	ID         string      `json:"id"`
	Persona    string      `json:"persona"`
	Role       string      `json:"role"`
	Status     AgentStatus `json:"status"`
	Iterations int         `json:"iterations"`
	CostUSD    float64     `json:"cost_usd"`
	Workspace  string      `json:"workspace,omitempty"` // Isolated checkout path
	UpdatedAt  time.Time   `json:"updated_at"`
}

// TaskStatus tracks a unit of work. Tasks are never deleted; the full list
// forms the session's audit trail.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of work assigned to an agent. Lower priority number is
// more urgent.
type Task struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AgentID     string         `json:"agent_id"`
	Description string         `json:"description"`
	Priority    int            `json:"priority"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      TaskStatus     `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
