// Package conflict detects overlapping edits between agents' isolated
// workspaces and resolves them with one of four strategies.
package conflict

import (
	"context"
	"time"
)

// Strategy selects how an overlap between two agents is resolved.
type Strategy string

const (
	// StrategySequential gives the first agent the lock; the second waits.
	StrategySequential Strategy = "sequential"

	// StrategyPriority keeps the higher-precedence persona's version.
	StrategyPriority Strategy = "priority"

	// StrategyMerge attempts a three-way text merge against the base.
	StrategyMerge Strategy = "merge"

	// StrategyManual parks the conflict for human resolution.
	StrategyManual Strategy = "manual"
)

// Outcome is the result of a resolution attempt.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeConflict Outcome = "conflict"
	OutcomePending  Outcome = "pending"
)

// Conflict is a detected overlap between two agents' uncommitted changes.
type Conflict struct {
	ID         string    `json:"id"`
	AgentA     string    `json:"agent_a"`
	AgentB     string    `json:"agent_b"`
	Files      []string  `json:"files"`
	Strategy   Strategy  `json:"strategy,omitempty"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// Resolution records one resolution attempt for the history log.
type Resolution struct {
	Timestamp time.Time `json:"timestamp"`
	Strategy  Strategy  `json:"strategy"`
	AgentA    string    `json:"agent_a"`
	AgentB    string    `json:"agent_b"`
	File      string    `json:"file"`
	Outcome   Outcome   `json:"outcome"`
	Winner    string    `json:"winner,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Merged    string    `json:"-"` // Clean merge result, not persisted
}

// Source provides the per-agent file views the detector and resolver need.
// The workspace manager satisfies this for real runs; tests use fakes.
type Source interface {
	// ChangedFiles returns the files an agent modified relative to its base.
	ChangedFiles(ctx context.Context, agentID string) ([]string, error)
	// FileContent returns the agent's current version of a file.
	FileContent(agentID, path string) (string, error)
	// BaseContent returns the file as it was at the agent's base commit.
	BaseContent(ctx context.Context, agentID, path string) (string, error)
}
