package notification

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/db"
	"github.com/scanline-io/timetablex/internal/metrics"
	"github.com/scanline-io/timetablex/internal/repositories"
)

// Service is the single entry point for Webhook Delivery attempts (spec
// §4.8). The Worker Pool calls Attempt once, immediately after a job
// completes; the scheduler's retry sweep calls SweepPending for webhooks
// that failed and are still under maxAttempts.
type Service struct {
	repo   repositories.WebhookRepository
	sender *WebhookSender
	log    *zap.Logger
	now    func() time.Time
}

// NewService returns a Service.
func NewService(repo repositories.WebhookRepository, sender *WebhookSender, log *zap.Logger) *Service {
	return &Service{repo: repo, sender: sender, log: log.Named("notification"), now: time.Now}
}

// Attempt runs one delivery attempt for webhook (spec §4.8): on 2xx it
// marks the webhook delivered; otherwise it records the failed attempt,
// leaving the webhook for a future retry if it has attempts remaining.
func (s *Service) Attempt(ctx context.Context, webhook db.Webhook) error {
	err := s.sender.Deliver(ctx, webhook.URL, string(webhook.Secret), webhook.JobID)
	now := s.now()

	if err == nil {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		return s.repo.MarkDelivered(ctx, webhook.ID, now)
	}

	attempts := webhook.Attempts + 1
	if attempts >= webhook.MaxAttempts {
		metrics.WebhookDeliveries.WithLabelValues("exhausted").Inc()
		s.log.Warn("webhook delivery exhausted max attempts",
			zap.String("webhookId", webhook.ID.String()),
			zap.String("jobId", webhook.JobID.String()),
			zap.Int("attempts", attempts),
			zap.Error(err))
	} else {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		s.log.Info("webhook delivery attempt failed, will retry",
			zap.String("webhookId", webhook.ID.String()),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}

	return s.repo.MarkAttempt(ctx, webhook.ID, attempts, now, err.Error())
}

// SweepPending attempts delivery for up to limit undelivered webhooks that
// still have attempts remaining, returning how many it attempted.
func (s *Service) SweepPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.repo.ListPendingDelivery(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, wh := range pending {
		if err := s.Attempt(ctx, wh); err != nil {
			s.log.Error("webhook attempt bookkeeping failed",
				zap.String("webhookId", wh.ID.String()), zap.Error(err))
		}
	}
	return len(pending), nil
}
