package workspace

import (
	"context"
	"fmt"
	"sync"
)

// Index tracks live workspaces by agent ID and exposes them through
// agent-keyed lookups, which is the view conflict detection wants.
type Index struct {
	mgr *Manager

	mu      sync.Mutex
	byAgent map[string]*Workspace
}

// NewIndex creates an empty index over a workspace manager.
func NewIndex(mgr *Manager) *Index {
	return &Index{
		mgr:     mgr,
		byAgent: make(map[string]*Workspace),
	}
}

// Create provisions a workspace for the agent and tracks it.
func (x *Index) Create(ctx context.Context, agentID string) (*Workspace, error) {
	ws, err := x.mgr.Create(ctx, agentID)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	x.byAgent[agentID] = ws
	x.mu.Unlock()
	return ws, nil
}

// Release removes the agent's workspace and forgets it. Idempotent.
func (x *Index) Release(agentID string) error {
	x.mu.Lock()
	delete(x.byAgent, agentID)
	x.mu.Unlock()
	return x.mgr.Release(agentID)
}

// Get returns the tracked workspace for an agent.
func (x *Index) Get(agentID string) (*Workspace, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	ws, ok := x.byAgent[agentID]
	if !ok {
		return nil, fmt.Errorf("no workspace for agent %s", agentID)
	}
	return ws, nil
}

// ChangedFiles lists the agent's modified files relative to its base.
func (x *Index) ChangedFiles(ctx context.Context, agentID string) ([]string, error) {
	ws, err := x.Get(agentID)
	if err != nil {
		return nil, err
	}
	return x.mgr.ChangedFiles(ctx, ws)
}

// FileContent reads the agent's current version of a file.
func (x *Index) FileContent(agentID, relPath string) (string, error) {
	ws, err := x.Get(agentID)
	if err != nil {
		return "", err
	}
	return x.mgr.FileContent(ws, relPath)
}

// BaseContent reads the file as it was at the agent's base commit.
func (x *Index) BaseContent(ctx context.Context, agentID, relPath string) (string, error) {
	ws, err := x.Get(agentID)
	if err != nil {
		return "", err
	}
	return x.mgr.BaseContent(ctx, ws, relPath)
}
