// Package scheduler runs the service's periodic background jobs on gocron.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// JobFunc is one run of a periodic job. ctx ends at the job timeout or on Stop.
type JobFunc func(ctx context.Context) error

// Scheduler runs named jobs at fixed intervals. Each job runs once on Start
// and never overlaps with itself.
type Scheduler struct {
	cron   *gocron.Scheduler
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn to run every interval, each run bounded by timeout (0 = interval).
func (s *Scheduler) Add(name string, interval, timeout time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive, got %v", name, interval)
	}
	if timeout <= 0 {
		timeout = interval
	}

	_, err := s.cron.Every(interval).SingletonMode().Tag(name).Do(func() {
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.Warn("scheduled job failed", zap.String("job", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
			return
		}
		s.logger.Debug("scheduled job complete", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	s.logger.Info("scheduled job registered", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.StartAsync()
}

// Stop cancels running jobs and stops future runs.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return s.cron.Len()
}
