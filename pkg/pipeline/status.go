package pipeline

import (
	"fmt"
	"time"

	"swarm/pkg/conflict"
	"swarm/pkg/state"
)

// Snapshot is a point-in-time view of a running session, assembled from the
// store, bus, and coordinator without pausing anything.
type Snapshot struct {
	Session         *state.Session           `json:"session"`
	Phase           string                   `json:"phase"`
	Agents          []*state.Agent           `json:"agents"`
	TaskQueue       map[state.TaskStatus]int `json:"task_queue"`
	PendingMessages int                      `json:"pending_messages"`
	Conflicts       []*conflict.Conflict     `json:"conflicts,omitempty"`
	GeneratedAt     time.Time                `json:"generated_at"`
}

// Snapshot assembles the current session view.
func (c *Coordinator) Snapshot() (*Snapshot, error) {
	session, err := c.deps.Store.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	agents, err := c.deps.Store.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	counts, err := c.deps.Store.TaskQueueCounts()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	pending, err := c.deps.Bus.PendingOutbox()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	c.mu.Lock()
	phase := c.phase
	conflicts := append([]*conflict.Conflict(nil), c.conflicts...)
	c.mu.Unlock()

	return &Snapshot{
		Session:         session,
		Phase:           phase.String(),
		Agents:          agents,
		TaskQueue:       counts,
		PendingMessages: pending,
		Conflicts:       conflicts,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}
