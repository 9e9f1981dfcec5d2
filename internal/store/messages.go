package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"swarmq/internal/domain"
)

// SendMessage persists a message. An empty "to" is a broadcast: a single
// row visible to every agent, consumed by whichever polls first.
func (s *Store) SendMessage(ctx context.Context, from, to, topic string, payload json.RawMessage) (int64, error) {
	if !validPayload(payload) {
		return 0, fmt.Errorf("send message: %w", domain.ErrInvalidPayload)
	}
	var recipient any
	if to != "" {
		recipient = to
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO messages (from_agent, to_agent, topic, payload, created_at)
VALUES (?, ?, ?, ?, ?)`, from, recipient, topic, string(payload), nanos(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("send message id: %w", err)
	}
	return id, nil
}

// ReceiveMessages atomically selects and marks consumed every unconsumed
// message addressed to agentID or broadcast, optionally filtered by topic,
// returned in creation order. This is a destructive read: a broadcast row
// is gone for all other recipients once one caller receives it.
func (s *Store) ReceiveMessages(ctx context.Context, agentID, topic string) ([]domain.Message, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	q := `
SELECT id, from_agent, to_agent, topic, payload, created_at
FROM messages
WHERE consumed = 0 AND (to_agent IS NULL OR to_agent = ?)`
	args := []any{agentID}
	if topic != "" {
		q += ` AND topic = ?`
		args = append(args, topic)
	}
	q += ` ORDER BY id ASC`

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}
	var msgs []domain.Message
	var ids []string
	for rows.Next() {
		var (
			m         domain.Message
			to        sql.NullString
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.From, &to, &m.Topic, &payload, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("receive messages scan: %w", err)
		}
		m.Payload = json.RawMessage(payload)
		m.To = to.String
		m.Consumed = true
		m.CreatedAt = fromNanos(createdAt)
		msgs = append(msgs, m)
		ids = append(ids, fmt.Sprintf("%d", m.ID))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, tx.Rollback()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET consumed = 1 WHERE id IN (`+strings.Join(ids, ",")+`)`); err != nil {
		return nil, fmt.Errorf("consume messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("receive commit: %w", err)
	}
	return msgs, nil
}
