package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/scanline-io/timetablex/internal/db"
)

// -----------------------------------------------------------------------------
// Common
// -----------------------------------------------------------------------------

// ListOptions contains common pagination and filtering options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// JobRepository
// -----------------------------------------------------------------------------

type JobRepository interface {
	Create(ctx context.Context, job *db.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Job, error)

	// GetByIDWithResult retrieves a job together with its ExtractedTimetable
	// (if any) and the timetable's TimeBlock/RecurringBlock rows. All are
	// returned as separate values rather than embedded, because GORM cannot
	// auto-resolve slice associations keyed on a uuid.UUID parent.
	GetByIDWithResult(ctx context.Context, id uuid.UUID) (*db.Job, *db.ExtractedTimetable, []db.TimeBlock, []db.RecurringBlock, error)

	Update(ctx context.Context, job *db.Job) error

	// TransitionStatus performs a conditional status update guarded by
	// fromStatus — it is a no-op (ErrConflict) if the row's current status no
	// longer matches fromStatus. This is the mechanism that makes the
	// Processing -> Completed transition safe under duplicate delivery
	// (spec §4.7, invariant of §8 property S7).
	TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) error

	// MarkProcessing transitions Pending -> Processing and stamps startedAt.
	MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) error

	// MarkCompleted performs the conditional Processing -> Completed
	// transition and attaches the result references in one update.
	MarkCompleted(ctx context.Context, id uuid.UUID, method, complexity, resultBlobKey string, timetableID uuid.UUID, completedAt time.Time) error

	// MarkFailed performs the conditional Processing -> Failed transition.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error

	// MarkRetrying sets retryCount and the error message without changing
	// status — the Worker Pool calls it after every failed attempt, the
	// last one (followed by MarkFailed) included.
	MarkRetrying(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error

	// MarkCancelled performs the conditional Pending -> Cancelled transition.
	MarkCancelled(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, opts ListOptions) ([]db.Job, int64, error)

	// ListStaleProcessing returns jobs stuck in Processing with startedAt
	// older than olderThan — candidates for the stale-job recovery sweep.
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]db.Job, error)
}

// -----------------------------------------------------------------------------
// TimetableRepository
// -----------------------------------------------------------------------------

type TimetableRepository interface {
	// CreateWithBlocks persists an ExtractedTimetable together with its
	// TimeBlock and RecurringBlock rows in a single transaction.
	CreateWithBlocks(ctx context.Context, t *db.ExtractedTimetable) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.ExtractedTimetable, []db.TimeBlock, []db.RecurringBlock, error)
	GetByJobID(ctx context.Context, jobID uuid.UUID) (*db.ExtractedTimetable, []db.TimeBlock, []db.RecurringBlock, error)
}

// -----------------------------------------------------------------------------
// RetryLogRepository
// -----------------------------------------------------------------------------

type RetryLogRepository interface {
	// Append inserts one RetryLog row. Rows are append-only — there is no
	// Update or Delete.
	Append(ctx context.Context, log *db.RetryLog) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]db.RetryLog, error)
	CountByJob(ctx context.Context, jobID uuid.UUID) (int64, error)
}

// -----------------------------------------------------------------------------
// WebhookRepository
// -----------------------------------------------------------------------------

type WebhookRepository interface {
	Create(ctx context.Context, webhook *db.Webhook) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Webhook, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]db.Webhook, error)

	// ListPendingDelivery returns undelivered webhooks that have not yet
	// exhausted MaxAttempts, across all jobs — consumed by the delivery
	// sweep and by the Worker Pool's immediate post-completion dispatch.
	ListPendingDelivery(ctx context.Context, limit int) ([]db.Webhook, error)

	MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error
	MarkAttempt(ctx context.Context, id uuid.UUID, attempts int, lastAttemptAt time.Time, errMsg string) error
}
