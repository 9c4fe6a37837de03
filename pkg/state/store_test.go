package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), "session-test")
	require.NoError(t, err)
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateSession("session-test", "add login page", "pipeline")
	require.NoError(t, err)
	assert.Equal(t, SessionInitializing, created.Status)

	require.NoError(t, store.UpdateSession(func(s *Session) {
		s.Status = SessionRunning
		s.BugFixCycles = 2
	}))

	loaded, err := store.LoadSession()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, SessionRunning, loaded.Status)
	assert.Equal(t, 2, loaded.BugFixCycles)
	assert.Equal(t, "add login page", loaded.Goal)
}

func TestLoadSessionMissingDocument(t *testing.T) {
	store := newTestStore(t)

	session, err := store.LoadSession()
	require.NoError(t, err)
	assert.Nil(t, session)

	err = store.UpdateSession(func(s *Session) { s.Status = SessionRunning })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterAgent(t *testing.T) {
	store := newTestStore(t)

	agent, err := store.RegisterAgent("developer", "developer", "developer", "/tmp/ws/dev")
	require.NoError(t, err)
	assert.Equal(t, AgentRegistered, agent.Status)
	assert.Equal(t, "/tmp/ws/dev", agent.Workspace)

	_, err = store.RegisterAgent("developer", "developer", "developer", "")
	assert.Error(t, err, "duplicate registration must fail")
}

func TestUnregisterAgentIdempotent(t *testing.T) {
	store := newTestStore(t)

	_, err := store.RegisterAgent("tester", "tester", "tester", "")
	require.NoError(t, err)

	require.NoError(t, store.UnregisterAgent("tester"))
	require.NoError(t, store.UnregisterAgent("tester"), "second unregister is a no-op")
	require.NoError(t, store.UnregisterAgent("never-existed"))
}

func TestUpdateAgentStatusAccumulates(t *testing.T) {
	store := newTestStore(t)

	_, err := store.RegisterAgent("developer", "developer", "developer", "")
	require.NoError(t, err)

	require.NoError(t, store.UpdateAgentStatus("developer", AgentRunning, 3, 0.25))
	require.NoError(t, store.UpdateAgentStatus("developer", AgentWaiting, 2, 0.10))

	agent, err := store.GetAgent("developer")
	require.NoError(t, err)
	assert.Equal(t, AgentWaiting, agent.Status)
	assert.Equal(t, 5, agent.Iterations)
	assert.InDelta(t, 0.35, agent.CostUSD, 1e-9)

	err = store.UpdateAgentStatus("ghost", AgentRunning, 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAgentsEmptyAndSorted(t *testing.T) {
	store := newTestStore(t)

	agents, err := store.ListAgents()
	require.NoError(t, err)
	assert.Empty(t, agents, "missing document reads as empty")

	for _, id := range []string{"tester", "developer", "reviewer"} {
		_, err := store.RegisterAgent(id, id, id, "")
		require.NoError(t, err)
	}
	agents, err = store.ListAgents()
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, "developer", agents[0].ID)
	assert.Equal(t, "reviewer", agents[1].ID)
	assert.Equal(t, "tester", agents[2].ID)
}

func TestNextPendingTaskOrdering(t *testing.T) {
	store := newTestStore(t)

	low, err := store.CreateTask("implement", "developer", "low urgency", 5, nil)
	require.NoError(t, err)
	urgent, err := store.CreateTask("implement", "developer", "urgent fix", 1, nil)
	require.NoError(t, err)
	_, err = store.CreateTask("test", "tester", "other agent", 1, nil)
	require.NoError(t, err)

	next, err := store.NextPendingTask("developer")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, urgent, next.ID, "lower priority number is more urgent")

	// Reading does not consume the task.
	again, err := store.NextPendingTask("developer")
	require.NoError(t, err)
	assert.Equal(t, urgent, again.ID)

	require.NoError(t, store.UpdateTaskStatus(urgent, TaskCompleted, map[string]any{"signal": "TASK_COMPLETE"}))
	next, err = store.NextPendingTask("developer")
	require.NoError(t, err)
	assert.Equal(t, low, next.ID)
}

func TestNextPendingTaskFIFOOnTies(t *testing.T) {
	store := newTestStore(t)

	first, err := store.CreateTask("implement", "developer", "first", 2, nil)
	require.NoError(t, err)
	_, err = store.CreateTask("implement", "developer", "second", 2, nil)
	require.NoError(t, err)

	next, err := store.NextPendingTask("developer")
	require.NoError(t, err)
	assert.Equal(t, first, next.ID, "creation order breaks priority ties")
}

func TestNextPendingTaskNone(t *testing.T) {
	store := newTestStore(t)

	next, err := store.NextPendingTask("developer")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestTaskAuditTrailAndCounts(t *testing.T) {
	store := newTestStore(t)

	id, err := store.CreateTask("implement", "developer", "build it", 1, nil)
	require.NoError(t, err)
	require.NoError(t, store.UpdateTaskStatus(id, TaskInProgress, nil))
	require.NoError(t, store.UpdateTaskStatus(id, TaskCompleted, map[string]any{"signal": "TASK_COMPLETE"}))
	_, err = store.CreateTask("test", "tester", "check it", 2, nil)
	require.NoError(t, err)

	tasks, err := store.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 2, "tasks are never deleted")
	assert.Equal(t, "TASK_COMPLETE", tasks[0].Result["signal"])

	counts, err := store.TaskQueueCounts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[TaskCompleted])
	assert.Equal(t, 1, counts[TaskPending])

	err = store.UpdateTaskStatus("task-missing", TaskFailed, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}
