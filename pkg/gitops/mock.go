package gitops

import (
	"context"
	"sync"
	"time"
)

// MockClient records PR side effects for pipeline tests.
type MockClient struct {
	mu          sync.Mutex
	Branches    []string
	Pushes      []string
	DraftPRs    []string
	ReadyPRs    []string
	Merged      []string
	CheckResult CheckStatus // Returned by PollChecks; defaults to pass
	MergeErr    error
}

// NewMockClient creates a mock whose checks pass by default.
func NewMockClient() *MockClient {
	return &MockClient{CheckResult: ChecksPass}
}

func (m *MockClient) CreateBranch(_ context.Context, _, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Branches = append(m.Branches, name)
	return nil
}

func (m *MockClient) Push(_ context.Context, _, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pushes = append(m.Pushes, branch)
	return nil
}

func (m *MockClient) CreateDraftPR(_ context.Context, _, branch, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url := "https://example.test/pr/" + branch
	m.DraftPRs = append(m.DraftPRs, url)
	return url, nil
}

func (m *MockClient) MarkReady(_ context.Context, prURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadyPRs = append(m.ReadyPRs, prURL)
	return nil
}

func (m *MockClient) PollChecks(_ context.Context, _ string, _ time.Duration) (CheckStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CheckResult, nil
}

func (m *MockClient) Merge(_ context.Context, prURL, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MergeErr != nil {
		return m.MergeErr
	}
	m.Merged = append(m.Merged, prURL)
	return nil
}
