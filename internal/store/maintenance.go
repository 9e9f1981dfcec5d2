package store

import (
	"context"
	"fmt"
	"time"

	"swarmq/internal/domain"
)

// Cleanup deletes terminal tasks (and their history) whose completion
// timestamp is older than the retention window, plus consumed messages
// older than the window by creation time. Pending and in_progress tasks
// are never touched regardless of age; stuck-task detection belongs to an
// external supervisor.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (domain.CleanupResult, error) {
	var out domain.CleanupResult
	cutoff := nanos(time.Now().AddDate(0, 0, -retentionDays))

	tx, err := s.begin(ctx)
	if err != nil {
		return out, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM history WHERE task_id IN (
  SELECT id FROM tasks
  WHERE status IN ('complete','failed') AND completed_at IS NOT NULL AND completed_at < ?
)`, cutoff); err != nil {
		return out, fmt.Errorf("cleanup history: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
DELETE FROM tasks
WHERE status IN ('complete','failed') AND completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return out, fmt.Errorf("cleanup tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	out.Tasks = int(n)

	res, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE consumed = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return out, fmt.Errorf("cleanup messages: %w", err)
	}
	n, _ = res.RowsAffected()
	out.Messages = int(n)

	if err := tx.Commit(); err != nil {
		return out, fmt.Errorf("cleanup commit: %w", err)
	}
	return out, nil
}
