package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/scanline-io/timetablex/internal/db"
	"gorm.io/gorm"
)

// gormRetryLogRepository is the GORM implementation of RetryLogRepository.
type gormRetryLogRepository struct {
	db *gorm.DB
}

// NewRetryLogRepository returns a RetryLogRepository backed by the provided
// *gorm.DB.
func NewRetryLogRepository(db *gorm.DB) RetryLogRepository {
	return &gormRetryLogRepository{db: db}
}

// Append inserts one RetryLog row. Called once per failed attempt by the
// Worker Pool's retry protocol (spec §7) — rows are never updated or deleted.
func (r *gormRetryLogRepository) Append(ctx context.Context, log *db.RetryLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("retrylogs: append: %w", err)
	}
	return nil
}

// ListByJob returns all RetryLog rows for a job, ordered by attempt number.
func (r *gormRetryLogRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]db.RetryLog, error) {
	var logs []db.RetryLog
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt_number ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("retrylogs: list by job: %w", err)
	}
	return logs, nil
}

// CountByJob returns the number of RetryLog rows recorded for a job — used
// to cross-check retryCount against S5's "exactly N RetryLog rows" property.
func (r *gormRetryLogRepository) CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&db.RetryLog{}).
		Where("job_id = ?", jobID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("retrylogs: count by job: %w", err)
	}
	return count, nil
}
