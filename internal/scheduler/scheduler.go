package scheduler

import (
	"context"
	"time"

	"github.com/anabada/biaslotto/internal/logger"
)

// Runner performs one crawl run.
type Runner interface {
	RunOnce(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) RunOnce(ctx context.Context) error { return f(ctx) }

// Scheduler runs crawls at a fixed interval. Runs execute inline on the
// ticker goroutine, so two runs never overlap.
type Scheduler struct {
	runner   Runner
	log      *logger.Logger
	interval time.Duration
}

// New creates a new scheduler.
func New(runner Runner, log *logger.Logger, interval time.Duration) *Scheduler {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		runner:   runner,
		log:      log,
		interval: interval,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.log.Info("scheduler: initial crawl")
	s.runOnce(ctx)

	s.log.Info("scheduler: running", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	if err := s.runner.RunOnce(ctx); err != nil {
		s.log.Error("scheduler: run failed", "error", err, "elapsed", time.Since(start).String())
		return
	}
	s.log.Debug("scheduler: run finished", "elapsed", time.Since(start).String())
}
