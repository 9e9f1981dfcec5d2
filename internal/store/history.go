package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"swarmq/internal/domain"
)

func appendHistoryTx(ctx context.Context, tx *sql.Tx, taskID int64, agentID string, action domain.HistoryAction, details json.RawMessage) error {
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}
	var agent any
	if agentID != "" {
		agent = agentID
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO history (task_id, agent_id, action, details, created_at)
VALUES (?, ?, ?, ?, ?)`, taskID, agent, action, string(details), nanos(time.Now())); err != nil {
		return fmt.Errorf("append history %s for task %d: %w", action, taskID, err)
	}
	return nil
}

// TaskHistory returns the audit trail for a task in append order.
func (s *Store) TaskHistory(ctx context.Context, taskID int64) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task_id, agent_id, action, details, created_at
FROM history WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task history %d: %w", taskID, err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e         domain.HistoryEntry
			agent     sql.NullString
			details   string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &agent, &e.Action, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("task history scan: %w", err)
		}
		e.Details = json.RawMessage(details)
		e.AgentID = agent.String
		e.CreatedAt = fromNanos(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
