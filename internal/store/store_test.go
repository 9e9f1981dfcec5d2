package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"swarmq/internal/domain"
	"swarmq/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "swarmq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustCreate(t *testing.T, st *store.Store, taskType string, priority int) int64 {
	t.Helper()
	id, err := st.CreateTask(context.Background(), taskType, json.RawMessage(`{"n":1}`), "", priority, domain.DefaultMaxRetries)
	require.NoError(t, err)
	return id
}

func TestCreateTaskRejectsMalformedPayload(t *testing.T) {
	st := openTestStore(t)
	_, err := st.CreateTask(context.Background(), "demo", json.RawMessage(`{oops`), "", 5, 3)
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	_, err = st.CreateTask(context.Background(), "demo", nil, "", 5, 3)
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestClaimPriorityOrdering(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mustCreate(t, st, "low", 3)
	mustCreate(t, st, "high", 9)
	mustCreate(t, st, "mid", 5)

	var order []int
	for i := 0; i < 3; i++ {
		task, err := st.ClaimNext(ctx, "agent-1")
		require.NoError(t, err)
		require.NotNil(t, task)
		order = append(order, task.Priority)
	}
	require.Equal(t, []int{9, 5, 3}, order)

	task, err := st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestClaimFIFOWithinPriorityBand(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first := mustCreate(t, st, "a", 5)
	second := mustCreate(t, st, "b", 5)

	t1, err := st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, first, t1.ID)

	t2, err := st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, second, t2.ID)
}

func TestClaimRespectsAssignmentHint(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateTask(ctx, "demo", json.RawMessage(`{}`), "agent-a", 5, 3)
	require.NoError(t, err)

	task, err := st.ClaimNext(ctx, "agent-b")
	require.NoError(t, err)
	require.Nil(t, task, "hinted task must not be claimable by another agent")

	task, err = st.ClaimNext(ctx, "agent-a")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, id, task.ID)
}

func TestConcurrentClaimsAreDisjoint(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	const tasks = 10
	const claimers = 20
	for i := 0; i < tasks; i++ {
		mustCreate(t, st, "demo", 5)
	}

	results := make(chan *domain.Task, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			task, err := st.ClaimNext(ctx, "agent-"+string(rune('a'+n)))
			require.NoError(t, err)
			results <- task
		}(i)
	}
	wg.Wait()
	close(results)

	claimed := map[int64]bool{}
	empty := 0
	for task := range results {
		if task == nil {
			empty++
			continue
		}
		require.False(t, claimed[task.ID], "task %d claimed twice", task.ID)
		claimed[task.ID] = true
	}
	require.Len(t, claimed, tasks)
	require.Equal(t, claimers-tasks, empty)
}

func TestCompleteLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertAgent(ctx, "agent-1", "worker", nil, nil))
	id := mustCreate(t, st, "demo", 5)

	task, err := st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.TaskInProgress, task.Status)
	require.NotNil(t, task.StartedAt)

	agent, err := st.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.AgentBusy, agent.Status)
	require.NotNil(t, agent.CurrentTask)
	require.Equal(t, id, *agent.CurrentTask)

	require.NoError(t, st.CompleteTask(ctx, id, json.RawMessage(`{"out":"ok"}`)))

	got, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.TaskComplete, got.Status)
	require.JSONEq(t, `{"out":"ok"}`, string(got.Result))
	require.NotNil(t, got.CompletedAt)

	agent, err = st.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.AgentIdle, agent.Status)
	require.Nil(t, agent.CurrentTask)
	require.Equal(t, 1, agent.TotalCompleted)

	history, err := st.TaskHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, domain.ActionStarted, history[0].Action)
	require.Equal(t, domain.ActionCompleted, history[1].Action)
}

func TestCompleteRequiresInProgress(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id := mustCreate(t, st, "demo", 5)
	err := st.CompleteTask(ctx, id, json.RawMessage(`{}`))
	require.ErrorIs(t, err, domain.ErrInvalidState)

	err = st.CompleteTask(ctx, 9999, json.RawMessage(`{}`))
	require.ErrorIs(t, err, domain.ErrNotFound)

	// The rejected call must not have mutated anything.
	got, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.TaskPending, got.Status)
	require.Nil(t, got.CompletedAt)
}

func TestFailRequeuesWithOriginalOrdering(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	urgent := mustCreate(t, st, "urgent", 9)
	mustCreate(t, st, "later", 3)

	task, err := st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, urgent, task.ID)

	retrying, err := st.FailTask(ctx, urgent, "transient")
	require.NoError(t, err)
	require.True(t, retrying)

	got, err := st.GetTask(ctx, urgent)
	require.NoError(t, err)
	require.Equal(t, domain.TaskPending, got.Status)
	require.Equal(t, 1, got.Retries)
	require.Empty(t, got.AssignedTo, "assignment hint is cleared on requeue")
	require.Empty(t, got.Error, "error is only set on terminal failure")
	require.NotNil(t, got.StartedAt, "started_at survives the requeue: the task has run")

	// The requeued task keeps its original priority and age, so it is
	// claimed ahead of the newer low-priority task.
	task, err = st.ClaimNext(ctx, "agent-2")
	require.NoError(t, err)
	require.Equal(t, urgent, task.ID)
}

func TestRetryExhaustion(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateTask(ctx, "demo", json.RawMessage(`{}`), "", 5, 3)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		task, err := st.ClaimNext(ctx, "agent-1")
		require.NoError(t, err)
		require.Equal(t, id, task.ID)

		retrying, err := st.FailTask(ctx, id, "boom")
		require.NoError(t, err)
		require.Equal(t, i < 3, retrying)
	}

	got, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.TaskFailed, got.Status)
	require.Equal(t, 3, got.Retries)
	require.Equal(t, "boom", got.Error)
	require.NotNil(t, got.CompletedAt)

	// A fourth fail against the terminal task is rejected.
	_, err = st.FailTask(ctx, id, "again")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	// Terminal tasks never come back.
	task, err := st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestStartedAtTracksFirstClaim(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id := mustCreate(t, st, "demo", 5)

	// Never claimed: no start time.
	got, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Nil(t, got.StartedAt)

	_, err = st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	got, err = st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Nil(t, got.CompletedAt)
	firstStart := got.StartedAt
	require.NotNil(t, firstStart)

	// Requeued after a failure: still marked as having run.
	_, err = st.FailTask(ctx, id, "boom")
	require.NoError(t, err)
	got, err = st.GetTask(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	require.Equal(t, *firstStart, *got.StartedAt)

	// A later claim stamps the new attempt.
	_, err = st.ClaimNext(ctx, "agent-2")
	require.NoError(t, err)
	require.NoError(t, st.CompleteTask(ctx, id, json.RawMessage(`{}`)))
	got, err = st.GetTask(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	require.False(t, got.StartedAt.Before(*firstStart))
	require.NotNil(t, got.CompletedAt)
}

func TestFailChargesOwningAgent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertAgent(ctx, "agent-1", "worker", nil, nil))
	id := mustCreate(t, st, "demo", 5)

	_, err := st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	_, err = st.FailTask(ctx, id, "boom")
	require.NoError(t, err)

	agent, err := st.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.AgentIdle, agent.Status)
	require.Nil(t, agent.CurrentTask)
	require.Equal(t, 1, agent.TotalFailed)

	history, err := st.TaskHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, domain.ActionStarted, history[0].Action)
	require.Equal(t, domain.ActionFailed, history[1].Action)
	require.Equal(t, domain.ActionRetried, history[2].Action)
}

func TestListTasksOrdering(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, st, "a", 3)
	b := mustCreate(t, st, "b", 9)

	all, err := st.ListTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, b, all[0].ID, "unfiltered list is newest-first")

	pending, err := st.ListTasks(ctx, domain.TaskPending)
	require.NoError(t, err)
	require.Equal(t, b, pending[0].ID, "pending list follows claim order")
	require.Equal(t, a, pending[1].ID)
}

func TestCleanupHonorsRetention(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	oldDone := mustCreate(t, st, "old-done", 5)
	_, err := st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	require.NoError(t, st.CompleteTask(ctx, oldDone, json.RawMessage(`{}`)))

	freshDone := mustCreate(t, st, "fresh-done", 5)
	_, err = st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	require.NoError(t, st.CompleteTask(ctx, freshDone, json.RawMessage(`{}`)))

	oldPending := mustCreate(t, st, "old-pending", 5)

	// Backdate the old rows past the retention window.
	tenDaysAgo := time.Now().AddDate(0, 0, -10).UnixNano()
	_, err = st.DB().Exec(`UPDATE tasks SET completed_at = ? WHERE id = ?`, tenDaysAgo, oldDone)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE tasks SET created_at = ? WHERE id = ?`, tenDaysAgo, oldPending)
	require.NoError(t, err)

	msgOld, err := st.SendMessage(ctx, "a", "b", "t", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = st.ReceiveMessages(ctx, "b", "")
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE messages SET created_at = ? WHERE id = ?`, tenDaysAgo, msgOld)
	require.NoError(t, err)

	res, err := st.Cleanup(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 1, res.Tasks)
	require.Equal(t, 1, res.Messages)

	_, err = st.GetTask(ctx, oldDone)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Fresh terminal and old pending tasks both survive.
	_, err = st.GetTask(ctx, freshDone)
	require.NoError(t, err)
	_, err = st.GetTask(ctx, oldPending)
	require.NoError(t, err)

	history, err := st.TaskHistory(ctx, oldDone)
	require.NoError(t, err)
	require.Empty(t, history, "history goes with its task")
}

func TestStatsAggregates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertAgent(ctx, "agent-1", "worker", nil, nil))
	done := mustCreate(t, st, "demo", 5)
	mustCreate(t, st, "demo", 5)
	_, err := st.ClaimNext(ctx, "agent-1")
	require.NoError(t, err)
	require.NoError(t, st.CompleteTask(ctx, done, json.RawMessage(`{}`)))

	_, err = st.SendMessage(ctx, "a", "", "t", json.RawMessage(`{}`))
	require.NoError(t, err)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TasksByStatus[domain.TaskComplete])
	require.Equal(t, 1, stats.TasksByStatus[domain.TaskPending])
	require.Equal(t, 1, stats.UnreadMessages)
	require.Equal(t, 1, stats.Agents["agent-1"].TotalCompleted)
}

func TestConfigRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Defaults are seeded at open.
	require.Equal(t, 3, st.ConfigInt(ctx, store.ConfigMaxRetries, 99))
	require.Equal(t, 30, st.ConfigInt(ctx, store.ConfigHeartbeatTimeout, 99))

	require.NoError(t, st.SetConfig(ctx, store.ConfigRetentionDays, "14"))
	require.Equal(t, 14, st.ConfigInt(ctx, store.ConfigRetentionDays, 7))

	require.Equal(t, 42, st.ConfigInt(ctx, "missing", 42))
}
