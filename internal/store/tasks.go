package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"swarmq/internal/domain"
)

const taskColumns = `id, type, payload, status, priority, assigned_to, result, error, retries, max_retries, created_at, started_at, completed_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var (
		t          domain.Task
		payload    string
		assigned   sql.NullString
		result     sql.NullString
		errMsg     sql.NullString
		createdAt  int64
		startedAt  sql.NullInt64
		completedAt sql.NullInt64
	)
	// JSON columns come back as strings; the driver will not scan TEXT into
	// a named []byte type.
	if err := scan(&t.ID, &t.Type, &payload, &t.Status, &t.Priority, &assigned,
		&result, &errMsg, &t.Retries, &t.MaxRetries, &createdAt, &startedAt, &completedAt); err != nil {
		return domain.Task{}, err
	}
	t.Payload = json.RawMessage(payload)
	t.AssignedTo = assigned.String
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	t.Error = errMsg.String
	t.CreatedAt = fromNanos(createdAt)
	t.StartedAt = nullableNanos(startedAt)
	t.CompletedAt = nullableNanos(completedAt)
	return t, nil
}

// CreateTask persists a pending task and returns its id. assignedTo is a
// hint only; the claim transaction re-checks eligibility.
func (s *Store) CreateTask(ctx context.Context, taskType string, payload json.RawMessage, assignedTo string, priority, maxRetries int) (int64, error) {
	if !validPayload(payload) {
		return 0, fmt.Errorf("create task: %w", domain.ErrInvalidPayload)
	}
	var assigned any
	if assignedTo != "" {
		assigned = assignedTo
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (type, payload, status, priority, assigned_to, max_retries, created_at)
VALUES (?, ?, 'pending', ?, ?, ?, ?)`,
		taskType, string(payload), priority, assigned, maxRetries, nanos(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create task id: %w", err)
	}
	return id, nil
}

// ClaimNext atomically selects the highest-priority eligible pending task
// and flips it to in_progress for agentID. Eligible means pending and
// either unassigned or already hinted at this agent. Ordering is priority
// descending, then creation time ascending, then id ascending. Returns
// (nil, nil) when nothing is eligible.
func (s *Store) ClaimNext(ctx context.Context, agentID string) (*domain.Task, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE status = 'pending' AND (assigned_to IS NULL OR assigned_to = ?)
ORDER BY priority DESC, created_at ASC, id ASC
LIMIT 1`, agentID)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim select: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
UPDATE tasks SET status = 'in_progress', assigned_to = ?, started_at = ?
WHERE id = ?`, agentID, nanos(now), t.ID); err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}
	if err := appendHistoryTx(ctx, tx, t.ID, agentID, domain.ActionStarted, nil); err != nil {
		return nil, err
	}
	// Registry side effect: mark the claiming agent busy if it registered.
	if _, err := tx.ExecContext(ctx, `
UPDATE agents SET status = 'busy', current_task = ? WHERE id = ?`, t.ID, agentID); err != nil {
		return nil, fmt.Errorf("claim agent update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim commit: %w", err)
	}

	t.Status = domain.TaskInProgress
	t.AssignedTo = agentID
	started := now.UTC()
	t.StartedAt = &started
	return &t, nil
}

// CompleteTask records a successful result for an in_progress task and
// returns the owning agent to idle, bumping its completed counter.
func (s *Store) CompleteTask(ctx context.Context, id int64, result json.RawMessage) error {
	if !validPayload(result) {
		return fmt.Errorf("complete task %d: %w", id, domain.ErrInvalidPayload)
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	status, agentID, err := taskStateTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if status != domain.TaskInProgress {
		return fmt.Errorf("complete task %d in status %s: %w", id, status, domain.ErrInvalidState)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE tasks SET status = 'complete', result = ?, completed_at = ? WHERE id = ?`,
		string(result), nanos(time.Now()), id); err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	if err := appendHistoryTx(ctx, tx, id, agentID, domain.ActionCompleted, nil); err != nil {
		return err
	}
	if agentID != "" {
		if _, err := tx.ExecContext(ctx, `
UPDATE agents SET total_completed = total_completed + 1, status = 'idle', current_task = NULL
WHERE id = ?`, agentID); err != nil {
			return fmt.Errorf("complete task %d agent update: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("complete task %d commit: %w", id, err)
	}
	return nil
}

// FailTask records a failed execution. While retries remain the task is
// requeued pending with its assignment hint cleared, keeping its original
// priority and creation time; otherwise it is terminal failed. The owning
// agent's failed counter is bumped and it returns to idle either way.
// The returned bool reports whether the task was requeued.
func (s *Store) FailTask(ctx context.Context, id int64, errMsg string) (bool, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status     domain.TaskStatus
		assigned   sql.NullString
		retries    int
		maxRetries int
	)
	err = tx.QueryRowContext(ctx, `
SELECT status, assigned_to, retries, max_retries FROM tasks WHERE id = ?`, id).
		Scan(&status, &assigned, &retries, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("fail task %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("fail task %d: %w", id, err)
	}
	if status != domain.TaskInProgress {
		return false, fmt.Errorf("fail task %d in status %s: %w", id, status, domain.ErrInvalidState)
	}

	retries++
	retrying := retries < maxRetries
	now := nanos(time.Now())
	// started_at survives the requeue: it records that the task has run at
	// least once, and the next claim overwrites it anyway.
	if retrying {
		_, err = tx.ExecContext(ctx, `
UPDATE tasks SET status = 'pending', retries = ?, assigned_to = NULL
WHERE id = ?`, retries, id)
	} else {
		_, err = tx.ExecContext(ctx, `
UPDATE tasks SET status = 'failed', retries = ?, error = ?, completed_at = ?
WHERE id = ?`, retries, errMsg, now, id)
	}
	if err != nil {
		return false, fmt.Errorf("fail task %d: %w", id, err)
	}

	details, _ := json.Marshal(map[string]any{"error": errMsg, "retries": retries})
	if err := appendHistoryTx(ctx, tx, id, assigned.String, domain.ActionFailed, details); err != nil {
		return false, err
	}
	if retrying {
		if err := appendHistoryTx(ctx, tx, id, assigned.String, domain.ActionRetried, nil); err != nil {
			return false, err
		}
	}
	if assigned.Valid && assigned.String != "" {
		if _, err := tx.ExecContext(ctx, `
UPDATE agents SET total_failed = total_failed + 1, status = 'idle', current_task = NULL
WHERE id = ?`, assigned.String); err != nil {
			return false, fmt.Errorf("fail task %d agent update: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("fail task %d commit: %w", id, err)
	}
	return retrying, nil
}

func taskStateTx(ctx context.Context, tx *sql.Tx, id int64) (domain.TaskStatus, string, error) {
	var (
		status   domain.TaskStatus
		assigned sql.NullString
	)
	err := tx.QueryRowContext(ctx, `SELECT status, assigned_to FROM tasks WHERE id = ?`, id).
		Scan(&status, &assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("task %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("task %d: %w", id, err)
	}
	return status, assigned.String, nil
}

func (s *Store) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("task %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// ListTasks returns all tasks newest-first, or, when filtered, tasks in the
// given status. The pending filter orders by claim order (priority then
// age) so callers see the queue as the claimers will drain it.
func (s *Store) ListTasks(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC, id DESC`
	args := []any{}
	switch status {
	case "":
	case domain.TaskPending:
		q = `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending'
ORDER BY priority DESC, created_at ASC, id ASC`
	default:
		q = `SELECT ` + taskColumns + ` FROM tasks WHERE status = ? ORDER BY created_at DESC, id DESC`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list tasks scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Stats aggregates task counts by status, per-agent counters, and the
// unread message backlog (via the unread_messages view).
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	stats := domain.Stats{
		TasksByStatus: map[domain.TaskStatus]int{},
		Agents:        map[string]domain.AgentStat{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("stats tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st domain.TaskStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return stats, fmt.Errorf("stats tasks scan: %w", err)
		}
		stats.TasksByStatus[st] = n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	agentRows, err := s.db.QueryContext(ctx, `SELECT id, status, total_completed, total_failed FROM agents`)
	if err != nil {
		return stats, fmt.Errorf("stats agents: %w", err)
	}
	defer agentRows.Close()
	for agentRows.Next() {
		var id string
		var a domain.AgentStat
		if err := agentRows.Scan(&id, &a.Status, &a.TotalCompleted, &a.TotalFailed); err != nil {
			return stats, fmt.Errorf("stats agents scan: %w", err)
		}
		stats.Agents[id] = a
	}
	if err := agentRows.Err(); err != nil {
		return stats, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unread_messages`).Scan(&stats.UnreadMessages); err != nil {
		return stats, fmt.Errorf("stats messages: %w", err)
	}
	return stats, nil
}
