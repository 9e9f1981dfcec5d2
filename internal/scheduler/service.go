// Package scheduler turns cron schedules into enqueued tasks.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"swarmq/internal/domain"
	"swarmq/internal/queue"
	"swarmq/internal/store"
)

type Service struct {
	store    *store.Store
	queue    *queue.Queue
	log      zerolog.Logger
	interval time.Duration
}

func NewService(st *store.Store, q *queue.Queue, log zerolog.Logger, checkInterval time.Duration) *Service {
	return &Service{
		store:    st,
		queue:    q,
		log:      log.With().Str("component", "scheduler").Logger(),
		interval: checkInterval,
	}
}

// Run polls for due schedules until the context is canceled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("schedule service started")
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.ProcessDue(ctx, now)
		}
	}
}

// ProcessDue fires every enabled schedule due at now. Run calls it on each
// tick; it also serves as the single-shot entry point.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) {
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list due schedules")
		return
	}
	for _, sc := range due {
		if err := s.fire(ctx, sc, now); err != nil {
			s.log.Error().Err(err).Str("schedule", sc.ID).Msg("failed to fire schedule")
		}
	}
}

func (s *Service) fire(ctx context.Context, sc domain.Schedule, now time.Time) error {
	spec, err := cron.ParseStandard(sc.CronExpr)
	if err != nil {
		s.log.Error().Err(err).Str("cron_expr", sc.CronExpr).Msg("invalid cron expression")
		return err
	}

	taskID, err := s.queue.Enqueue(ctx, sc.TaskType, sc.Payload, sc.AssignedTo, sc.Priority)
	if err != nil {
		return err
	}
	nextRun := spec.Next(now)
	if err := s.store.MarkScheduleRun(ctx, sc.ID, now, nextRun); err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", sc.ID).
		Str("name", sc.Name).
		Int64("task", taskID).
		Time("next_run", nextRun).
		Msg("scheduled task enqueued")
	return nil
}

// ValidateCronExpression checks a standard 5-field cron expression.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run after "from" for a cron expression.
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(from), nil
}
