// Package registry tracks agent identity, liveness, and status. Heartbeats
// are advisory telemetry: the core never auto-fails a stale agent's work.
// That policy belongs to an external supervisor.
package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"swarmq/internal/domain"
	"swarmq/internal/store"
)

type Health string

const (
	Healthy Health = "healthy"
	Stale   Health = "stale"
)

type Registry struct {
	store   *store.Store
	log     zerolog.Logger
	timeout time.Duration
}

// New reads the heartbeat timeout from the config table; timeout <= 0 in
// config falls back to 30s.
func New(st *store.Store, log zerolog.Logger) *Registry {
	secs := st.ConfigInt(context.Background(), store.ConfigHeartbeatTimeout, 30)
	if secs <= 0 {
		secs = 30
	}
	return &Registry{
		store:   st,
		log:     log.With().Str("component", "registry").Logger(),
		timeout: time.Duration(secs) * time.Second,
	}
}

// Timeout is the staleness threshold in effect.
func (r *Registry) Timeout() time.Duration { return r.timeout }

// Register upserts an agent: idempotent, resets status to idle and the
// heartbeat to now, preserves lifetime counters on re-registration.
func (r *Registry) Register(ctx context.Context, id, agentType string, capabilities, metadata json.RawMessage) error {
	if err := r.store.UpsertAgent(ctx, id, agentType, capabilities, metadata); err != nil {
		return err
	}
	r.log.Info().Str("agent", id).Str("type", agentType).Msg("agent registered")
	return nil
}

// Heartbeat refreshes last_heartbeat only; unknown agents are a no-op.
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	return r.store.TouchHeartbeat(ctx, id)
}

// CheckHealth derives liveness from heartbeat age; it never mutates.
func (r *Registry) CheckHealth(ctx context.Context, id string) (Health, error) {
	a, err := r.store.GetAgent(ctx, id)
	if err != nil {
		return "", err
	}
	if time.Since(a.LastHeartbeat) > r.timeout {
		return Stale, nil
	}
	return Healthy, nil
}

func (r *Registry) SetStatus(ctx context.Context, id string, status domain.AgentStatus, currentTask *int64) error {
	return r.store.SetAgentStatus(ctx, id, status, currentTask)
}

func (r *Registry) Get(ctx context.Context, id string) (domain.Agent, error) {
	return r.store.GetAgent(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]domain.Agent, error) {
	return r.store.ListAgents(ctx)
}
