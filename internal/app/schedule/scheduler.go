package schedule

import (
	"context"
	"log/slog"
	"time"

	"rentme-deposits/internal/app/commands"
	depositsapp "rentme-deposits/internal/app/handlers/deposits"
)

// SweepScheduler dispatches a sweep on every tick. Overlapping runs across
// replicas are expected; the ledger's conditional updates keep them safe.
type SweepScheduler struct {
	Commands commands.Bus
	Interval time.Duration
	Limit    int
	// Live enables real releases. Without it each tick is a dry run.
	Live   bool
	Logger *slog.Logger
}

func (s *SweepScheduler) Run(ctx context.Context) error {
	if s.Commands == nil {
		return commands.ErrNilBus
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *SweepScheduler) tick(ctx context.Context) {
	cmd := depositsapp.SweepDepositsCommand{
		Limit:   s.Limit,
		DryRun:  !s.Live,
		Trigger: depositsapp.TriggerSchedule,
	}
	if _, err := commands.Dispatch[depositsapp.SweepDepositsCommand, *depositsapp.SweepResult](ctx, s.Commands, cmd); err != nil {
		s.logger().Error("scheduled deposit sweep failed", "error", err)
	}
}

func (s *SweepScheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
