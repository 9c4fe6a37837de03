package conflict

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarm/pkg/locks"
)

// rolePrecedence mirrors the fixed persona precedence used in production.
func rolePrecedence(agentID string) int {
	switch agentID {
	case "developer":
		return 1
	case "tester":
		return 2
	case "reviewer":
		return 3
	default:
		return 100
	}
}

func newTestResolver(t *testing.T, src Source) (*Resolver, *locks.Manager, *History) {
	t.Helper()
	lockMgr := locks.NewManager()
	history, err := NewHistory(filepath.Join(t.TempDir(), "conflicts.jsonl"))
	require.NoError(t, err)
	return NewResolver(src, lockMgr, rolePrecedence, history), lockMgr, history
}

func TestResolveSequentialGrantsLockToFirstAgent(t *testing.T) {
	r, lockMgr, history := newTestResolver(t, &fakeSource{})

	res, err := r.Resolve(context.Background(), StrategySequential, "developer", "tester", "src/auth/login.ts")
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, "developer", res.Winner)

	owner, _, locked := lockMgr.IsLocked("src/auth/login.ts")
	require.True(t, locked)
	assert.Equal(t, "developer", owner)

	records, err := history.Read()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StrategySequential, records[0].Strategy)
}

func TestResolvePriorityDeveloperBeatsTester(t *testing.T) {
	r, _, _ := newTestResolver(t, &fakeSource{})

	res, err := r.Resolve(context.Background(), StrategyPriority, "tester", "developer", "src/auth/login.ts")
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, "developer", res.Winner, "lower precedence number wins regardless of argument order")
}

func TestResolvePriorityTieKeepsFirstAgent(t *testing.T) {
	r, _, _ := newTestResolver(t, &fakeSource{})

	res, err := r.Resolve(context.Background(), StrategyPriority, "custom-a", "custom-b", "file.go")
	require.NoError(t, err)
	assert.Equal(t, "custom-a", res.Winner)
}

func TestResolveMergeClean(t *testing.T) {
	src := &fakeSource{
		base: map[string]string{"config.yaml": "name: app\nport: 80\nhost: local\ntls: off\ndebug: false\n"},
		files: map[string]map[string]string{
			"developer": {"config.yaml": "name: app\nport: 8080\nhost: local\ntls: off\ndebug: false\n"},
			"tester":    {"config.yaml": "name: app\nport: 80\nhost: local\ntls: off\ndebug: true\n"},
		},
	}
	r, _, history := newTestResolver(t, src)

	res, err := r.Resolve(context.Background(), StrategyMerge, "developer", "tester", "config.yaml")
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, "name: app\nport: 8080\nhost: local\ntls: off\ndebug: true\n", res.Merged)

	records, err := history.Read()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Winner, "a clean merge has no single winner")
}

func TestResolveMergeOverlapReportsConflict(t *testing.T) {
	src := &fakeSource{
		base: map[string]string{"main.go": "func main() {\n\trun()\n}\n"},
		files: map[string]map[string]string{
			"developer": {"main.go": "func main() {\n\trunServer()\n}\n"},
			"tester":    {"main.go": "func main() {\n\trunWithRetry()\n}\n"},
		},
	}
	r, _, history := newTestResolver(t, src)

	res, err := r.Resolve(context.Background(), StrategyMerge, "developer", "tester", "main.go")
	require.NoError(t, err, "an unclean merge is an outcome, not an error")
	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.Empty(t, res.Merged)

	records, err := history.Read()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, OutcomeConflict, records[0].Outcome)
}

func TestResolveManualParks(t *testing.T) {
	r, _, history := newTestResolver(t, &fakeSource{})

	res, err := r.Resolve(context.Background(), StrategyManual, "developer", "tester", "file.go")
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)

	records, err := history.Read()
	require.NoError(t, err)
	require.Len(t, records, 1, "pending resolutions are recorded too")
}

func TestResolveUnknownStrategy(t *testing.T) {
	r, _, _ := newTestResolver(t, &fakeSource{})

	_, err := r.Resolve(context.Background(), Strategy("vote"), "a", "b", "file.go")
	assert.Error(t, err)
}

func TestHistoryAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conflicts.jsonl")
	history, err := NewHistory(path)
	require.NoError(t, err)

	src := &fakeSource{}
	r := NewResolver(src, locks.NewManager(), rolePrecedence, history)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(ctx, StrategyPriority, "developer", "tester", "file.go")
		require.NoError(t, err)
	}

	records, err := history.Read()
	require.NoError(t, err)
	assert.Len(t, records, 3, "every attempt appends; nothing is rewritten")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\"merged\"", "merge payloads stay out of the audit log")
}
