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

// gormJobRepository is the GORM implementation of JobRepository.
type gormJobRepository struct {
	db *gorm.DB
}

// NewJobRepository returns a JobRepository backed by the provided *gorm.DB.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &gormJobRepository{db: db}
}

// Create inserts a new job record into the database.
func (r *gormJobRepository) Create(ctx context.Context, job *db.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("jobs: create: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its UUID.
// Returns ErrNotFound if no record exists.
func (r *gormJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Job, error) {
	var job db.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get by id: %w", err)
	}
	return &job, nil
}

// GetByIDWithResult retrieves a job together with its ExtractedTimetable (if
// any) and that timetable's TimeBlock/RecurringBlock rows, via separate
// queries — GORM cannot auto-resolve these associations because the parent
// key is a uuid.UUID (see db/models.go).
func (r *gormJobRepository) GetByIDWithResult(ctx context.Context, id uuid.UUID) (*db.Job, *db.ExtractedTimetable, []db.TimeBlock, []db.RecurringBlock, error) {
	var job db.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, nil, ErrNotFound
		}
		return nil, nil, nil, nil, fmt.Errorf("jobs: get by id with result: %w", err)
	}

	if job.ExtractedTimetableID == nil {
		return &job, nil, nil, nil, nil
	}

	var timetable db.ExtractedTimetable
	if err := r.db.WithContext(ctx).First(&timetable, "id = ?", *job.ExtractedTimetableID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &job, nil, nil, nil, nil
		}
		return nil, nil, nil, nil, fmt.Errorf("jobs: get timetable for job %s: %w", id, err)
	}

	var blocks []db.TimeBlock
	if err := r.db.WithContext(ctx).
		Where("timetable_id = ?", timetable.ID).
		Order("day ASC, start_time ASC").
		Find(&blocks).Error; err != nil {
		return nil, nil, nil, nil, fmt.Errorf("jobs: get blocks for timetable %s: %w", timetable.ID, err)
	}

	var recurring []db.RecurringBlock
	if err := r.db.WithContext(ctx).
		Where("timetable_id = ?", timetable.ID).
		Order("start_time ASC").
		Find(&recurring).Error; err != nil {
		return nil, nil, nil, nil, fmt.Errorf("jobs: get recurring blocks for timetable %s: %w", timetable.ID, err)
	}

	return &job, &timetable, blocks, recurring, nil
}

// Update persists all fields of an existing job record.
func (r *gormJobRepository) Update(ctx context.Context, job *db.Job) error {
	result := r.db.WithContext(ctx).Save(job)
	if result.Error != nil {
		return fmt.Errorf("jobs: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionStatus performs a compare-and-set status update: the row is only
// touched if its current status still matches fromStatus. A duplicate queue
// delivery racing a prior worker's completion lands here and affects zero
// rows, which callers treat as "someone else already handled this."
func (r *gormJobRepository) TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) error {
	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return fmt.Errorf("jobs: transition status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkProcessing performs the conditional Pending -> Processing transition
// and stamps startedAt in the same update.
func (r *gormJobRepository) MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("id = ? AND status = ?", id, "pending").
		Updates(map[string]interface{}{
			"status":     "processing",
			"started_at": startedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("jobs: mark processing: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkCompleted performs the conditional Processing -> Completed transition
// (spec §4.7's "conditional update WHERE status = 'Processing'") and attaches
// the result references atomically. A zero-row result means a prior delivery
// already completed this job — callers must treat that as success-no-op.
func (r *gormJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, method, complexity, resultBlobKey string, timetableID uuid.UUID, completedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("id = ? AND status = ?", id, "processing").
		Updates(map[string]interface{}{
			"status":                  "completed",
			"method":                  method,
			"complexity":              complexity,
			"result_blob_key":         resultBlobKey,
			"extracted_timetable_id":  timetableID,
			"completed_at":            completedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("jobs: mark completed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkFailed performs the conditional Processing -> Failed transition, set
// once retryCount reaches maxRetries (spec §3 invariant 3).
func (r *gormJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("id = ? AND status = ?", id, "processing").
		Updates(map[string]interface{}{
			"status":        "failed",
			"error_message": errMsg,
			"completed_at":  completedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("jobs: mark failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkRetrying records a failed attempt's retryCount and error message
// without changing status. Between attempts the queue message is left in
// place so it reappears after the visibility timeout (spec §7).
func (r *gormJobRepository) MarkRetrying(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("id = ? AND status = ?", id, "processing").
		Updates(map[string]interface{}{
			"retry_count":   retryCount,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("jobs: mark retrying: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkCancelled performs the conditional Pending -> Cancelled transition.
// In-flight (Processing) jobs cannot be cancelled (spec §5).
func (r *gormJobRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("id = ? AND status = ?", id, "pending").
		Update("status", "cancelled")
	if result.Error != nil {
		return fmt.Errorf("jobs: mark cancelled: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// List returns a paginated list of jobs and the total count,
// ordered by creation time descending (most recent first).
func (r *gormJobRepository) List(ctx context.Context, opts ListOptions) ([]db.Job, int64, error) {
	var jobs []db.Job
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Job{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list: %w", err)
	}

	return jobs, total, nil
}

// ListStaleProcessing returns jobs stuck in Processing whose startedAt
// predates olderThan — candidates for the stale-job recovery sweep (grounded
// on the stale-job recovery pattern run before a worker's main poll loop).
func (r *gormJobRepository) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]db.Job, error) {
	var jobs []db.Job
	if err := r.db.WithContext(ctx).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ?", "processing", olderThan).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("jobs: list stale processing: %w", err)
	}
	return jobs, nil
}
