// Package queue is the task-facing service over the store: submission
// defaults, payload checks, and the claim/complete/fail protocol. Claim
// ordering is priority descending, then creation time ascending, with the
// task id as the final deterministic tie-break.
package queue

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"swarmq/internal/domain"
	"swarmq/internal/store"
)

type Queue struct {
	store      *store.Store
	log        zerolog.Logger
	maxRetries int
}

// New reads the deployment default for max_retries from the config table.
func New(st *store.Store, log zerolog.Logger) *Queue {
	return &Queue{
		store:      st,
		log:        log.With().Str("component", "queue").Logger(),
		maxRetries: st.ConfigInt(context.Background(), store.ConfigMaxRetries, domain.DefaultMaxRetries),
	}
}

// Enqueue persists a pending task. Zero priority gets the default (5);
// assignedTo, when set, is a routing hint for a specific agent.
func (q *Queue) Enqueue(ctx context.Context, taskType string, payload json.RawMessage, assignedTo string, priority int) (int64, error) {
	if priority == 0 {
		priority = domain.DefaultPriority
	}
	id, err := q.store.CreateTask(ctx, taskType, payload, assignedTo, priority, q.maxRetries)
	if err != nil {
		return 0, err
	}
	q.log.Info().Int64("task", id).Str("type", taskType).Int("priority", priority).Msg("task enqueued")
	return id, nil
}

// ClaimNext hands agentID the next eligible pending task, or nil when the
// queue has nothing for it. Losing a race to another poller is the same
// "nothing eligible" outcome, never an error.
func (q *Queue) ClaimNext(ctx context.Context, agentID string) (*domain.Task, error) {
	t, err := q.store.ClaimNext(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if t != nil {
		q.log.Debug().Int64("task", t.ID).Str("agent", agentID).Msg("task claimed")
	}
	return t, nil
}

// Complete finishes an in_progress task with its result document.
func (q *Queue) Complete(ctx context.Context, id int64, result json.RawMessage) error {
	if err := q.store.CompleteTask(ctx, id, result); err != nil {
		return err
	}
	q.log.Info().Int64("task", id).Msg("task complete")
	return nil
}

// Fail reports a failed execution. The task is requeued with its original
// priority and age while retries remain, otherwise marked terminal failed.
// Returns whether it will retry.
func (q *Queue) Fail(ctx context.Context, id int64, errMsg string) (bool, error) {
	retrying, err := q.store.FailTask(ctx, id, errMsg)
	if err != nil {
		return false, err
	}
	q.log.Warn().Int64("task", id).Bool("retrying", retrying).Str("error", errMsg).Msg("task failed")
	return retrying, nil
}

func (q *Queue) Get(ctx context.Context, id int64) (domain.Task, error) {
	return q.store.GetTask(ctx, id)
}

func (q *Queue) List(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	return q.store.ListTasks(ctx, status)
}

func (q *Queue) History(ctx context.Context, id int64) ([]domain.HistoryEntry, error) {
	return q.store.TaskHistory(ctx, id)
}

func (q *Queue) Stats(ctx context.Context) (domain.Stats, error) {
	return q.store.Stats(ctx)
}
