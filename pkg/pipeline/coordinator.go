// Package pipeline drives a coordination run through its phases:
// Planning -> DevTest (bounded bug-fix loop) -> Review (bounded review
// loop) -> Finalized.
//
// The coordinator consumes typed agent outcomes, updates the state store
// and message bus, and consults the conflict detector before dispatching
// the next agent. When a feedback loop hits its bound the run proceeds
// with a warning instead of failing: a partially-successful run is more
// valuable than an aborted one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"swarm/pkg/bus"
	"swarm/pkg/config"
	"swarm/pkg/conflict"
	"swarm/pkg/eventlog"
	"swarm/pkg/gitops"
	"swarm/pkg/insights"
	"swarm/pkg/locks"
	"swarm/pkg/logx"
	"swarm/pkg/metrics"
	"swarm/pkg/proto"
	"swarm/pkg/runner"
	"swarm/pkg/state"
	"swarm/pkg/utils"
	"swarm/pkg/workspace"
)

// ErrManualResolution is returned when a conflict was parked for human
// resolution; the run stops in a resumable state rather than dispatching
// an agent onto a contested file.
var ErrManualResolution = errors.New("pipeline: conflict awaiting manual resolution")

// ciPollTimeout bounds how long finalize waits for external CI checks
// before proceeding with a warning.
const ciPollTimeout = 5 * time.Minute

// validTransitions is the pipeline transition table. Review may loop back
// to DevTest to address requested changes.
//
//nolint:gochecknoglobals // Static transition table
var validTransitions = map[proto.State][]proto.State{
	proto.StatePlanning: {proto.StateDevTest},
	// Reviewerless sessions finalize straight from DevTest.
	proto.StateDevTest: {proto.StateDevTest, proto.StateReview, proto.StateFinalized},
	proto.StateReview:  {proto.StateDevTest, proto.StateFinalized},
}

// Deps carries the coordinator's injected collaborators. Store, Bus,
// Locks, and Runner are required; the rest are optional and degrade to
// no-ops when nil.
type Deps struct {
	Store      *state.Store
	Bus        *bus.Bus
	Locks      *locks.Manager
	Runner     runner.Runner
	Workspaces *workspace.Index
	Detector   *conflict.Detector
	Resolver   *conflict.Resolver
	Git        gitops.Client
	Insights   *insights.Provider
	Events     *eventlog.Writer
	Metrics    *metrics.Recorder
}

// Coordinator owns one session's pipeline run.
type Coordinator struct {
	cfg    *config.Config
	deps   Deps
	logger *logx.Logger

	sessionID string

	mu         sync.Mutex
	phase      proto.State
	bugFix     int // Current bug-fix cycle within DevTest
	review     int // Current review cycle
	approved   bool
	notes      []string // Shared session notes folded into prompts
	prURL      string
	lastResult map[string]*runner.Result // Last outcome per agent
	conflicts  []*conflict.Conflict
}

// NewSessionID generates a fresh session identifier. Callers that need the
// ID before wiring (the state store is session-scoped) generate it first
// and pass it to New.
func NewSessionID() string {
	return "session-" + utils.ShortID()
}

// New creates a coordinator for the given session.
func New(cfg *config.Config, sessionID string, deps Deps) (*Coordinator, error) {
	if deps.Store == nil || deps.Bus == nil || deps.Locks == nil || deps.Runner == nil {
		return nil, fmt.Errorf("pipeline requires store, bus, locks, and runner")
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	return &Coordinator{
		cfg:        cfg,
		deps:       deps,
		logger:     logx.NewLogger("pipeline"),
		sessionID:  sessionID,
		phase:      proto.StatePlanning,
		bugFix:     1,
		review:     1,
		lastResult: make(map[string]*runner.Result),
	}, nil
}

// SessionID returns the run's session identifier.
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// Setup creates the session document, provisions a workspace per enabled
// persona, and registers each as an agent.
func (c *Coordinator) Setup(ctx context.Context) error {
	if _, err := c.deps.Store.CreateSession(c.sessionID, c.cfg.Goal, c.cfg.Mode); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	for i := range c.cfg.Personas {
		p := &c.cfg.Personas[i]
		if !p.IsEnabled() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("setup cancelled: %w", err)
		}

		wsPath := ""
		if c.deps.Workspaces != nil {
			ws, err := c.deps.Workspaces.Create(ctx, p.Name)
			if err != nil {
				return fmt.Errorf("failed to create workspace for %s: %w", p.Name, err)
			}
			wsPath = ws.Path
		}

		if _, err := c.deps.Store.RegisterAgent(p.Name, p.Name, p.Role, wsPath); err != nil {
			return fmt.Errorf("failed to register %s: %w", p.Name, err)
		}
		c.emitAgentStatus(p.Name, state.AgentRegistered)
	}

	if err := c.deps.Store.UpdateSession(func(s *state.Session) {
		s.Status = state.SessionReady
	}); err != nil {
		return fmt.Errorf("failed to mark session ready: %w", err)
	}
	return nil
}

// Shutdown releases locks and workspaces, unregisters agents, and marks
// the session terminal. Safe to call after a failed run; each step is
// idempotent.
func (c *Coordinator) Shutdown() error {
	agents, err := c.deps.Store.ListAgents()
	if err != nil {
		return fmt.Errorf("failed to list agents for shutdown: %w", err)
	}
	for _, agent := range agents {
		c.deps.Locks.ReleaseAll(agent.ID)
		if c.deps.Workspaces != nil {
			if err := c.deps.Workspaces.Release(agent.ID); err != nil {
				c.logger.Warn("Failed to release workspace for %s: %v", agent.ID, err)
			}
		}
		if err := c.deps.Store.UnregisterAgent(agent.ID); err != nil {
			c.logger.Warn("Failed to unregister %s: %v", agent.ID, err)
		}
	}

	return c.deps.Store.UpdateSession(func(s *state.Session) {
		if s.Status != state.SessionCompleted {
			s.Status = state.SessionShutdown
		}
	})
}

// Run drives the pipeline to its terminal state.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.deps.Store.UpdateSession(func(s *state.Session) {
		s.Status = state.SessionRunning
	}); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	if err := c.runPlanning(ctx); err != nil {
		return err
	}
	if err := c.runFeedbackLoops(ctx); err != nil {
		return err
	}
	return c.finalize(ctx)
}

// runFeedbackLoops alternates DevTest and Review until the reviewer
// approves or the review bound is hit.
func (c *Coordinator) runFeedbackLoops(ctx context.Context) error {
	for {
		if err := c.runDevTest(ctx); err != nil {
			return err
		}

		again, err := c.runReview(ctx)
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
}

// transition moves to a new phase, recording and broadcasting the change.
func (c *Coordinator) transition(to proto.State, meta map[string]any) error {
	c.mu.Lock()
	from := c.phase
	if from != to {
		allowed := false
		for _, next := range validTransitions[from] {
			if next == to {
				allowed = true
				break
			}
		}
		if !allowed {
			c.mu.Unlock()
			return fmt.Errorf("invalid phase transition %s -> %s", from, to)
		}
	}
	c.phase = to
	c.mu.Unlock()

	c.logger.Info("Phase transition: %s -> %s", from, to)
	if c.deps.Metrics != nil {
		c.deps.Metrics.PhaseTransition(from.String(), to.String())
	}
	change := proto.StateChangeNotification{
		SessionID: c.sessionID,
		FromState: from,
		ToState:   to,
		Metadata:  meta,
	}
	c.emit(&eventlog.Event{
		Type:      eventlog.TypePhaseTransition,
		SessionID: c.sessionID,
		Payload:   change.Payload(),
	})
	return nil
}

// Phase returns the current pipeline phase.
func (c *Coordinator) Phase() proto.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Approved reports whether the run ended fully approved.
func (c *Coordinator) Approved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approved
}

// AddNote appends to the shared notes folded into every prompt.
func (c *Coordinator) AddNote(note string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, note)
}

func (c *Coordinator) emit(event *eventlog.Event) {
	if c.deps.Events == nil {
		return
	}
	if err := c.deps.Events.Emit(event); err != nil {
		c.logger.Warn("Failed to emit %s event: %v", event.Type, err)
	}
}

func (c *Coordinator) emitAgentStatus(agentID string, status state.AgentStatus) {
	c.emit(&eventlog.Event{
		Type:      eventlog.TypeAgentStatusChanged,
		SessionID: c.sessionID,
		AgentID:   agentID,
		Payload:   map[string]any{"status": string(status)},
	})
}

func (c *Coordinator) syncSessionCounters() {
	c.mu.Lock()
	bugFix, review, approved := c.bugFix, c.review, c.approved
	c.mu.Unlock()

	if err := c.deps.Store.UpdateSession(func(s *state.Session) {
		s.BugFixCycles = bugFix
		s.ReviewCycles = review
		s.Approved = approved
	}); err != nil {
		c.logger.Warn("Failed to sync session counters: %v", err)
	}
}
