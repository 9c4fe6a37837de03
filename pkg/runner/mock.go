package runner

import (
	"context"
	"sync"

	"swarm/pkg/proto"
)

// MockRunner returns scripted results per agent, in order. Used by pipeline
// tests to drive the state machine through bounded retry cycles without an
// external process.
type MockRunner struct {
	mu       sync.Mutex
	scripts  map[string][]*Result
	calls    map[string]int
	requests map[string][]Request
}

// NewMockRunner creates an empty mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		scripts:  make(map[string][]*Result),
		calls:    make(map[string]int),
		requests: make(map[string][]Request),
	}
}

// Script appends a scripted result for an agent. Results are returned in
// the order they were scripted; the last one repeats once exhausted.
func (m *MockRunner) Script(agentID string, results ...*Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[agentID] = append(m.scripts[agentID], results...)
}

// ScriptSignal is shorthand for scripting a single-signal result.
func (m *MockRunner) ScriptSignal(agentID string, signal proto.Signal) {
	m.Script(agentID, &Result{Signal: signal, Iterations: 1})
}

// Run returns the next scripted result for the agent.
func (m *MockRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // Context errors pass through unchanged
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	script := m.scripts[req.AgentID]
	call := m.calls[req.AgentID]
	m.calls[req.AgentID] = call + 1
	m.requests[req.AgentID] = append(m.requests[req.AgentID], req)

	if len(script) == 0 {
		return &Result{Signal: proto.SignalNone, Iterations: req.MaxIterations}, nil
	}
	if call >= len(script) {
		call = len(script) - 1
	}
	out := *script[call]
	return &out, nil
}

// Calls returns how many times the agent was run.
func (m *MockRunner) Calls(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[agentID]
}

// Requests returns every request the agent received, in order.
func (m *MockRunner) Requests(agentID string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests[agentID]...)
}
