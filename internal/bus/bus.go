// Package bus delivers topic-tagged messages between agents through the
// store: point-to-point when addressed, broadcast when not.
//
// Broadcasts are single-copy: one row visible to all agents, consumed by
// whichever polls first. Callers that need all-recipients delivery should
// send addressed copies.
package bus

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"swarmq/internal/domain"
	"swarmq/internal/store"
)

type Bus struct {
	store *store.Store
	log   zerolog.Logger
}

func New(st *store.Store, log zerolog.Logger) *Bus {
	return &Bus{store: st, log: log.With().Str("component", "bus").Logger()}
}

// Send queues a message. Empty "to" broadcasts. There is no delivery
// confirmation; per-recipient ordering follows creation order.
func (b *Bus) Send(ctx context.Context, from, to, topic string, payload json.RawMessage) (int64, error) {
	id, err := b.store.SendMessage(ctx, from, to, topic, payload)
	if err != nil {
		return 0, err
	}
	b.log.Debug().Int64("message", id).Str("from", from).Str("to", to).Str("topic", topic).Msg("message sent")
	return id, nil
}

// Receive drains every unconsumed message addressed to agentID or
// broadcast, optionally filtered by topic, in creation order. The read is
// destructive: returned messages are consumed for everyone.
func (b *Bus) Receive(ctx context.Context, agentID, topic string) ([]domain.Message, error) {
	msgs, err := b.store.ReceiveMessages(ctx, agentID, topic)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		b.log.Debug().Str("agent", agentID).Int("count", len(msgs)).Msg("messages received")
	}
	return msgs, nil
}
