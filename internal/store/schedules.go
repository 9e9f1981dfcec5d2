package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"swarmq/internal/domain"
)

const scheduleColumns = `id, name, cron_expr, task_type, payload, priority, assigned_to, enabled, last_run, next_run, created_at`

// CreateSchedule persists a recurring task definition. The caller is
// responsible for validating the cron expression and computing next_run.
func (s *Store) CreateSchedule(ctx context.Context, sc domain.Schedule) (string, error) {
	if !validPayload(sc.Payload) {
		return "", fmt.Errorf("create schedule: %w", domain.ErrInvalidPayload)
	}
	id := sc.ID
	if id == "" {
		id = "sch_" + uuid.NewString()
	}
	if sc.Priority == 0 {
		sc.Priority = domain.DefaultPriority
	}
	var assigned any
	if sc.AssignedTo != "" {
		assigned = sc.AssignedTo
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO schedules (id, name, cron_expr, task_type, payload, priority, assigned_to, enabled, next_run, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sc.Name, sc.CronExpr, sc.TaskType, string(sc.Payload), sc.Priority, assigned,
		sc.Enabled, nanos(sc.NextRun), nanos(time.Now()))
	if err != nil {
		return "", fmt.Errorf("create schedule: %w", err)
	}
	return id, nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return sc, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list schedules scan: %w", err)
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("toggle schedule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DueSchedules returns enabled schedules whose next_run is at or before
// now, in due order.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+scheduleColumns+` FROM schedules
WHERE enabled = 1 AND next_run <= ? ORDER BY next_run`, nanos(now))
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	defer rows.Close()

	var due []domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("due schedules scan: %w", err)
		}
		due = append(due, sc)
	}
	return due, rows.Err()
}

// MarkScheduleRun advances a schedule after its task was enqueued.
func (s *Store) MarkScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run = ?, next_run = ? WHERE id = ?`,
		nanos(lastRun), nanos(nextRun), id); err != nil {
		return fmt.Errorf("mark schedule %s run: %w", id, err)
	}
	return nil
}

func scanSchedule(scan func(dest ...any) error) (domain.Schedule, error) {
	var (
		sc        domain.Schedule
		payload   string
		assigned  sql.NullString
		lastRun   sql.NullInt64
		nextRun   int64
		createdAt int64
	)
	if err := scan(&sc.ID, &sc.Name, &sc.CronExpr, &sc.TaskType, &payload, &sc.Priority,
		&assigned, &sc.Enabled, &lastRun, &nextRun, &createdAt); err != nil {
		return domain.Schedule{}, err
	}
	sc.Payload = json.RawMessage(payload)
	sc.AssignedTo = assigned.String
	sc.LastRun = nullableNanos(lastRun)
	sc.NextRun = fromNanos(nextRun)
	sc.CreatedAt = fromNanos(createdAt)
	return sc, nil
}
