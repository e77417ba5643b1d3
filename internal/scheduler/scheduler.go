package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"partner-bot/internal/metrics"

	"github.com/go-co-op/gocron/v2"
)

// Task is one periodic unit of work.
type Task func(ctx context.Context) error

// Scheduler runs background jobs: the pending withdrawal digest and the
// session sweep.
type Scheduler struct {
	sched   gocron.Scheduler
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a stopped scheduler.
func New(logger *slog.Logger, metricRegistry *metrics.Metrics) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sched:   sched,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("component", "scheduler"),
		metrics: metricRegistry,
	}, nil
}

// Every registers task to run at the given interval. Overlapping runs of the
// same job are skipped.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	_, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.run(name, task) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info("job scheduled", "job", name, "interval", interval.String())
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	start := time.Now()
	err := task(s.ctx)
	if s.metrics != nil {
		s.metrics.ScheduledJobRuns.WithLabelValues(name, metrics.Status(err)).Inc()
	}
	if err != nil {
		s.logger.Error("job failed", "job", name, "error", err)
		return
	}
	s.logger.Debug("job finished", "job", name, "duration", time.Since(start).String())
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}
