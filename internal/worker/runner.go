// Package worker runs the agent side of the protocol: register, heartbeat,
// poll for a claim, execute, report. One task is in flight per runner; an
// agent that wants parallelism runs more agents.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"swarmq/internal/domain"
	"swarmq/internal/queue"
	"swarmq/internal/registry"
)

// Handler executes one task type and returns its result document.
type Handler interface {
	Handle(ctx context.Context, task domain.Task) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task domain.Task) (json.RawMessage, error)

func (f HandlerFunc) Handle(ctx context.Context, task domain.Task) (json.RawMessage, error) {
	return f(ctx, task)
}

type Runner struct {
	queue     *queue.Queue
	registry  *registry.Registry
	handlers  map[string]Handler
	log       zerolog.Logger
	agentID   string
	agentType string
	poll      time.Duration
	heartbeat time.Duration
}

type Config struct {
	AgentID   string // generated when empty
	AgentType string
	Poll      time.Duration // sleep between empty polls, default 5s
	Heartbeat time.Duration // heartbeat interval, default 10s
}

func NewRunner(q *queue.Queue, reg *registry.Registry, handlers map[string]Handler, log zerolog.Logger, cfg Config) *Runner {
	if cfg.AgentID == "" {
		cfg.AgentID = "agent-" + uuid.NewString()
	}
	if cfg.AgentType == "" {
		cfg.AgentType = "worker"
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 5 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	return &Runner{
		queue:     q,
		registry:  reg,
		handlers:  handlers,
		log:       log.With().Str("component", "worker").Str("agent", cfg.AgentID).Logger(),
		agentID:   cfg.AgentID,
		agentType: cfg.AgentType,
		poll:      cfg.Poll,
		heartbeat: cfg.Heartbeat,
	}
}

func (r *Runner) AgentID() string { return r.agentID }

// Run registers the agent and polls until the context is canceled. On exit
// the agent is marked offline; any task still in flight stays in_progress
// for an external supervisor to resolve.
func (r *Runner) Run(ctx context.Context) error {
	caps, _ := json.Marshal(map[string]any{"types": handlerTypes(r.handlers)})
	if err := r.registry.Register(ctx, r.agentID, r.agentType, caps, nil); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}

	hb := time.NewTicker(r.heartbeat)
	defer hb.Stop()
	poll := time.NewTimer(0)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			offCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = r.registry.SetStatus(offCtx, r.agentID, domain.AgentOffline, nil)
			return ctx.Err()
		case <-hb.C:
			if err := r.registry.Heartbeat(ctx, r.agentID); err != nil {
				r.log.Warn().Err(err).Msg("heartbeat failed")
			}
		case <-poll.C:
			task, err := r.queue.ClaimNext(ctx, r.agentID)
			if err != nil {
				r.log.Error().Err(err).Msg("claim failed")
				poll.Reset(r.poll)
				continue
			}
			if task == nil {
				poll.Reset(r.poll)
				continue
			}
			r.execute(ctx, *task)
			// Immediately poll again after finishing a task.
			poll.Reset(0)
		}
	}
}

func (r *Runner) execute(ctx context.Context, task domain.Task) {
	h, ok := r.handlers[task.Type]
	if !ok {
		r.report(ctx, task.ID, nil, fmt.Errorf("no handler for task type %q", task.Type))
		return
	}
	r.log.Info().Int64("task", task.ID).Str("type", task.Type).Msg("executing task")
	result, err := h.Handle(ctx, task)
	r.report(ctx, task.ID, result, err)
}

func (r *Runner) report(ctx context.Context, taskID int64, result json.RawMessage, execErr error) {
	if execErr != nil {
		retrying, err := r.queue.Fail(ctx, taskID, execErr.Error())
		if err != nil {
			r.log.Error().Err(err).Int64("task", taskID).Msg("failed to report failure")
			return
		}
		r.log.Warn().Int64("task", taskID).Bool("retrying", retrying).Err(execErr).Msg("task execution failed")
		return
	}
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	if err := r.queue.Complete(ctx, taskID, result); err != nil {
		r.log.Error().Err(err).Int64("task", taskID).Msg("failed to report completion")
	}
}

func handlerTypes(handlers map[string]Handler) []string {
	types := make([]string, 0, len(handlers))
	for t := range handlers {
		types = append(types, t)
	}
	return types
}
