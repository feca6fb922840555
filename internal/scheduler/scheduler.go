package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"vehicle-tracker/internal/service"
)

// Scheduler drives the alert-inference sweep on a fixed cadence.
type Scheduler struct {
	sweeps   *service.SweepService
	interval time.Duration
	log      zerolog.Logger
}

func New(sweeps *service.SweepService, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		sweeps:   sweeps,
		interval: interval,
		log:      log,
	}
}

// Run blocks until the context is cancelled, executing one sweep per tick.
// The first sweep runs immediately on start.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Msg("sweep scheduler started")

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweep scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.sweeps.Run(ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduled sweep failed")
	}
}
