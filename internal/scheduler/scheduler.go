// Package scheduler runs the periodic sweeps that keep the pipeline honest
// between worker-pool polls: retrying undelivered webhooks and requeuing
// jobs stuck in Processing after a crash. It wraps go-co-op/gocron/v2 the
// same way the teacher's own scheduler package wraps it for policy ticks —
// one gocron job per sweep, singleton mode so a slow run is never doubled
// up by the next tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/metrics"
)

// staleJobRecoverer is satisfied by *worker.Pool. Declared locally instead
// of imported to avoid a scheduler -> worker package dependency cycle (the
// worker package does not need to know about the scheduler).
type staleJobRecoverer interface {
	RecoverStaleJobs(ctx context.Context) (int, error)
}

// webhookSweeper is satisfied by *notification.Service.
type webhookSweeper interface {
	SweepPending(ctx context.Context, limit int) (int, error)
}

// queueDepthSampler is satisfied by *queue.RedisQueue. It is optional: a
// Queue implementation that doesn't support it simply skips the depth
// sweep (see New).
type queueDepthSampler interface {
	Depth(ctx context.Context) (int64, error)
}

// Config controls sweep cadence. Zero-value fields fall back to the
// defaults applied by New.
type Config struct {
	WebhookSweepInterval       time.Duration
	StaleRecoverySweepInterval time.Duration
	QueueDepthSampleInterval   time.Duration
	WebhookSweepLimit          int
}

// DefaultConfig returns sensible sweep cadences: webhook retries every
// minute, stale-job recovery every two minutes (comfortably inside the
// default 300s visibility timeout so a stuck job is reclaimed well before
// an operator would otherwise notice).
func DefaultConfig() Config {
	return Config{
		WebhookSweepInterval:       1 * time.Minute,
		StaleRecoverySweepInterval: 2 * time.Minute,
		QueueDepthSampleInterval:   30 * time.Second,
		WebhookSweepLimit:          100,
	}
}

// Scheduler wraps gocron and coordinates the webhook-retry and stale-job
// recovery sweeps.
type Scheduler struct {
	cron   gocron.Scheduler
	config Config
	logger *zap.Logger
}

// New creates and configures a Scheduler. queueDepth may be nil when the
// Queue implementation in use doesn't support depth sampling (e.g. in
// tests); the depth sweep is simply skipped in that case. Call Start to
// begin running sweeps; Stop to shut down gracefully.
func New(webhooks webhookSweeper, staleJobs staleJobRecoverer, queueDepth queueDepthSampler, config Config, logger *zap.Logger) (*Scheduler, error) {
	if config.WebhookSweepInterval <= 0 {
		config.WebhookSweepInterval = DefaultConfig().WebhookSweepInterval
	}
	if config.StaleRecoverySweepInterval <= 0 {
		config.StaleRecoverySweepInterval = DefaultConfig().StaleRecoverySweepInterval
	}
	if config.QueueDepthSampleInterval <= 0 {
		config.QueueDepthSampleInterval = DefaultConfig().QueueDepthSampleInterval
	}
	if config.WebhookSweepLimit <= 0 {
		config.WebhookSweepLimit = DefaultConfig().WebhookSweepLimit
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create gocron scheduler: %w", err)
	}

	sched := &Scheduler{cron: s, config: config, logger: logger.Named("scheduler")}

	if err := sched.addWebhookSweep(webhooks); err != nil {
		return nil, err
	}
	if err := sched.addStaleRecoverySweep(staleJobs); err != nil {
		return nil, err
	}
	if queueDepth != nil {
		if err := sched.addQueueDepthSweep(queueDepth); err != nil {
			return nil, err
		}
	}

	return sched, nil
}

// Start begins running every registered sweep on its configured interval.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Duration("webhook_sweep_interval", s.config.WebhookSweepInterval),
		zap.Duration("stale_recovery_interval", s.config.StaleRecoverySweepInterval),
	)
}

// Stop gracefully shuts down the scheduler, waiting for any in-flight sweep
// to complete before returning.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) addWebhookSweep(webhooks webhookSweeper) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.config.WebhookSweepInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			n, err := webhooks.SweepPending(ctx, s.config.WebhookSweepLimit)
			if err != nil {
				s.logger.Error("webhook sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				s.logger.Info("webhook sweep attempted deliveries", zap.Int("count", n))
			}
		}),
		gocron.WithTags("webhook-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: add webhook sweep: %w", err)
	}
	return nil
}

func (s *Scheduler) addStaleRecoverySweep(staleJobs staleJobRecoverer) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.config.StaleRecoverySweepInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			n, err := staleJobs.RecoverStaleJobs(ctx)
			if err != nil {
				s.logger.Error("stale job recovery sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				s.logger.Warn("recovered stale processing jobs", zap.Int("count", n))
			}
		}),
		gocron.WithTags("stale-recovery-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: add stale recovery sweep: %w", err)
	}
	return nil
}

func (s *Scheduler) addQueueDepthSweep(queueDepth queueDepthSampler) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.config.QueueDepthSampleInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			depth, err := queueDepth.Depth(ctx)
			if err != nil {
				s.logger.Error("queue depth sample failed", zap.Error(err))
				return
			}
			metrics.QueueDepth.Set(float64(depth))
		}),
		gocron.WithTags("queue-depth-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: add queue depth sweep: %w", err)
	}
	return nil
}
