// Package scheduler runs the recurring background refresh of favorite gauges.
package scheduler

import (
	"context"
	"time"

	"github.com/flowmark/flowmark/internal/syncer"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const jobTimeout = 5 * time.Minute

// Scheduler periodically refreshes readings for favorite gauges.
type Scheduler struct {
	scheduler   *gocron.Scheduler
	coordinator *syncer.Coordinator
	interval    time.Duration
	logger      *zap.Logger
}

// New creates a Scheduler driving the given coordinator.
func New(coordinator *syncer.Coordinator, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler:   gocron.NewScheduler(time.UTC),
		coordinator: coordinator,
		interval:    interval,
		logger:      logger,
	}
}

// Start schedules the periodic refresh job and starts the scheduler
// asynchronously. An interval of zero disables the job.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("background refresh disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		failed, err := s.coordinator.RefreshFavorites(ctx)
		if err != nil {
			s.logger.Warn("favorite refresh cycle failed", zap.Error(err))
			return
		}
		if failed > 0 {
			s.logger.Warn("favorite refresh cycle had failures", zap.Int("failed", failed))
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("background refresh scheduled", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the scheduler and cancels future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
