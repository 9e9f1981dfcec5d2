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

// UpsertAgent registers an agent or refreshes an existing registration.
// Re-registration resets status to idle and bumps the heartbeat but keeps
// the original start time and lifetime counters.
func (s *Store) UpsertAgent(ctx context.Context, id, agentType string, capabilities, metadata json.RawMessage) error {
	if len(capabilities) == 0 {
		capabilities = json.RawMessage(`{}`)
	}
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	if !json.Valid(capabilities) || !json.Valid(metadata) {
		return fmt.Errorf("upsert agent %s: %w", id, domain.ErrInvalidPayload)
	}
	now := nanos(time.Now())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO agents (id, type, capabilities, status, last_heartbeat, started_at, metadata)
VALUES (?, ?, ?, 'idle', ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  type = excluded.type,
  capabilities = excluded.capabilities,
  metadata = excluded.metadata,
  status = 'idle',
  current_task = NULL,
  last_heartbeat = excluded.last_heartbeat`,
		id, agentType, string(capabilities), now, now, string(metadata))
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", id, err)
	}
	return nil
}

// TouchHeartbeat updates last_heartbeat only. Unknown agents are a silent
// no-op: the caller re-registers at startup anyway.
func (s *Store) TouchHeartbeat(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_heartbeat = ? WHERE id = ?`, nanos(time.Now()), id); err != nil {
		return fmt.Errorf("heartbeat %s: %w", id, err)
	}
	return nil
}

// SetAgentStatus transitions an agent, holding the invariant that busy
// requires a current task and any other status clears it.
func (s *Store) SetAgentStatus(ctx context.Context, id string, status domain.AgentStatus, currentTask *int64) error {
	if status == domain.AgentBusy && currentTask == nil {
		return fmt.Errorf("set agent %s busy without a task: %w", id, domain.ErrInvalidState)
	}
	var task any
	if status == domain.AgentBusy {
		task = *currentTask
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, current_task = ? WHERE id = ?`, status, task, id)
	if err != nil {
		return fmt.Errorf("set agent %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set agent %s status: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, type, capabilities, status, current_task, last_heartbeat, started_at,
       total_completed, total_failed, metadata
FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Agent{}, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, capabilities, status, current_task, last_heartbeat, started_at,
       total_completed, total_failed, metadata
FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list agents scan: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgent(scan func(dest ...any) error) (domain.Agent, error) {
	var (
		a            domain.Agent
		capabilities string
		metadata     string
		currentTask  sql.NullInt64
		heartbeat    int64
		startedAt    int64
	)
	if err := scan(&a.ID, &a.Type, &capabilities, &a.Status, &currentTask,
		&heartbeat, &startedAt, &a.TotalCompleted, &a.TotalFailed, &metadata); err != nil {
		return domain.Agent{}, err
	}
	a.Capabilities = json.RawMessage(capabilities)
	a.Metadata = json.RawMessage(metadata)
	if currentTask.Valid {
		t := currentTask.Int64
		a.CurrentTask = &t
	}
	a.LastHeartbeat = fromNanos(heartbeat)
	a.StartedAt = fromNanos(startedAt)
	return a, nil
}
