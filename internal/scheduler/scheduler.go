// Package scheduler periodically re-runs ingestion so the served index
// follows its upstream sources.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
	"github.com/couchcryptid/ndvi-forecast-service/internal/pipeline"
)

// Runner performs one ingestion run.
type Runner interface {
	Run(ctx context.Context, req domain.FetchRequest) pipeline.Report
}

// Scheduler triggers a refresh every interval. Runs never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	request   domain.FetchRequest
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler. It does nothing until Start.
func New(runner Runner, req domain.FetchRequest, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		request:   req,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the refresh job. The first run happens one interval from
// now; ctx bounds every run and cancelling it aborts the one in flight.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler: refresh interval must be positive")
	}

	_, err := s.scheduler.Every(s.interval).WaitForSchedule().SingletonMode().Do(func() {
		if ctx.Err() != nil {
			return
		}
		rep := s.runner.Run(ctx, s.request)
		s.logger.Info("scheduled refresh finished",
			"run_id", rep.RunID,
			"outcome", rep.Outcome,
			"accepted", rep.Accepted,
		)
	})
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}

	s.scheduler.StartAsync()
	s.logger.Info("refresh scheduled", "interval", s.interval)
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
