// Package runner defines the contract with the external coding-agent
// process and maps its raw output to typed signals.
//
// The coordinator never inspects agent text itself; it sees only the
// Result an adapter returns. Adapters own the string matching.
package runner

import (
	"context"

	"swarm/pkg/proto"
)

// Request describes one agent turn.
type Request struct {
	AgentID       string
	Prompt        string
	MaxIterations int
	WorkDir       string
}

// Result is the structured outcome of one agent turn.
type Result struct {
	Signal      proto.Signal
	CostUSD     float64
	Iterations  int
	CommitsMade int
	RawOutput   string
}

// Runner executes one agent turn. Implementations must honor ctx
// cancellation; a stuck external process must not block the coordinator.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}
