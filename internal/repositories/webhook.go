package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/scanline-io/timetablex/internal/db"
	"gorm.io/gorm"
)

// gormWebhookRepository is the GORM implementation of WebhookRepository.
type gormWebhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository returns a WebhookRepository backed by the provided
// *gorm.DB.
func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &gormWebhookRepository{db: db}
}

// Create inserts a new webhook subscription. Called by the Submission Facade
// before enqueue when a webhook URL is provided (spec §4.1).
func (r *gormWebhookRepository) Create(ctx context.Context, webhook *db.Webhook) error {
	if err := r.db.WithContext(ctx).Create(webhook).Error; err != nil {
		return fmt.Errorf("webhooks: create: %w", err)
	}
	return nil
}

// GetByID retrieves a webhook by its UUID.
func (r *gormWebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Webhook, error) {
	var wh db.Webhook
	if err := r.db.WithContext(ctx).First(&wh, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("webhooks: get by id: %w", err)
	}
	return &wh, nil
}

// ListByJob returns all webhook subscriptions attached to a job.
func (r *gormWebhookRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]db.Webhook, error) {
	var webhooks []db.Webhook
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Find(&webhooks).Error; err != nil {
		return nil, fmt.Errorf("webhooks: list by job: %w", err)
	}
	return webhooks, nil
}

// ListPendingDelivery returns undelivered webhooks that have not yet
// exhausted MaxAttempts, oldest first, bounded by limit.
func (r *gormWebhookRepository) ListPendingDelivery(ctx context.Context, limit int) ([]db.Webhook, error) {
	var webhooks []db.Webhook
	if err := r.db.WithContext(ctx).
		Where("delivered = ? AND attempts < max_attempts", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&webhooks).Error; err != nil {
		return nil, fmt.Errorf("webhooks: list pending delivery: %w", err)
	}
	return webhooks, nil
}

// MarkDelivered records a confirmed 2xx delivery (spec §3 invariant 6).
func (r *gormWebhookRepository) MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"delivered":       true,
			"delivered_at":    deliveredAt,
			"last_attempt_at": deliveredAt,
			"error_message":   "",
		})
	if result.Error != nil {
		return fmt.Errorf("webhooks: mark delivered: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAttempt records a non-2xx or transport-error delivery attempt.
func (r *gormWebhookRepository) MarkAttempt(ctx context.Context, id uuid.UUID, attempts int, lastAttemptAt time.Time, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&db.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":        attempts,
			"last_attempt_at": lastAttemptAt,
			"error_message":   errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("webhooks: mark attempt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
