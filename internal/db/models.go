package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// Job represents a single extraction request from artifact submission through
// terminal status. Status transitions form the DAG pending -> processing ->
// {completed, failed} and pending -> cancelled; no other transition is legal.
//
// ExtractedTimetableID is a plain indexed column, not a gorm:"-" slice — GORM
// resolves single uuid.UUID foreign keys fine, it only struggles with
// association *slices* keyed on a uuid.UUID parent (see TimeBlock/
// RecurringBlock below, loaded manually for that reason).
type Job struct {
	base
	Status string `gorm:"not null;default:'pending';index"`

	ArtifactBlobKey string `gorm:"not null"`
	MimeType        string `gorm:"not null"`
	OriginalName    string `gorm:"not null"`
	SizeBytes       int64  `gorm:"not null;default:0"`
	SubmitterID     string `gorm:"default:''"` // opaque submitter identity, empty for anonymous
	TeacherNameHint string `gorm:"default:''"` // submitter-provided metadata, overrides inferred values
	ClassNameHint   string `gorm:"default:''"`

	RetryCount   int    `gorm:"not null;default:0"`
	MaxRetries   int    `gorm:"not null;default:3"`
	Method       string `gorm:"default:''"` // backend method actually used, set on success
	Complexity   string `gorm:"default:''"` // complexity level, set on success
	ErrorMessage string `gorm:"type:text;default:''"`

	StartedAt   *time.Time
	CompletedAt *time.Time

	ExtractedTimetableID *uuid.UUID `gorm:"type:text;index"`
	ResultBlobKey        string     `gorm:"default:''"` // once assigned, never overwritten in place
}

// -----------------------------------------------------------------------------
// ExtractedTimetable
// -----------------------------------------------------------------------------

// ExtractedTimetable is the structured output of a completed extraction,
// created by the Worker Pool atomically with the Job's transition to
// Completed. It is never mutated afterward.
//
// Blocks and RecurringBlocks are populated by manual queries, mirroring the
// teacher's Job/JobDestination/JobLog split — GORM cannot auto-resolve these
// associations because the parent key is a uuid.UUID.
type ExtractedTimetable struct {
	base
	JobID uuid.UUID `gorm:"type:text;not null;index"`

	TeacherName string `gorm:"default:''"`
	ClassName   string `gorm:"default:''"`
	Term        string `gorm:"default:''"`
	Week        string `gorm:"default:''"`

	Warnings string `gorm:"type:text;default:'[]'"` // JSON array of human-readable notes

	Blocks          []TimeBlock      `gorm:"-"`
	RecurringBlocks []RecurringBlock `gorm:"-"`
}

// TimeBlock is a concrete scheduled event on a specific weekday. StartTime
// and EndTime are minute-of-day values in [0, 1440) with StartTime < EndTime.
type TimeBlock struct {
	base
	TimetableID uuid.UUID `gorm:"type:text;not null;index"`
	Day         string    `gorm:"not null;index"` // Monday..Friday

	StartTime int `gorm:"not null"`
	EndTime   int `gorm:"not null"`

	EventName  string   `gorm:"not null"`
	Notes      string   `gorm:"type:text;default:''"`
	Color      string   `gorm:"default:''"`
	Confidence *float64 // nil when the backend did not report one
	IsFixed    bool     `gorm:"not null;default:false"`
}

// RecurringBlock is a daily fixture: the same event at the same time across
// multiple days. AppliesDaily true implies Mon-Fri; false means the specific
// days are enumerated in Notes.
type RecurringBlock struct {
	base
	TimetableID uuid.UUID `gorm:"type:text;not null;index"`

	StartTime int `gorm:"not null"`
	EndTime   int `gorm:"not null"`

	EventName    string `gorm:"not null"`
	AppliesDaily bool   `gorm:"not null;default:true"`
	Notes        string `gorm:"type:text;default:''"`
}

// -----------------------------------------------------------------------------
// RetryLog
// -----------------------------------------------------------------------------

// RetryLog is one append-only record per failed extraction attempt. Rows are
// never updated or deleted.
type RetryLog struct {
	base
	JobID         uuid.UUID `gorm:"type:text;not null;index"`
	AttemptNumber int       `gorm:"not null"`
	ErrorKind     string    `gorm:"not null"`
	Message       string    `gorm:"type:text;not null"`
	StackEvidence string    `gorm:"type:text;default:''"`
	Timestamp     time.Time `gorm:"not null;index"`
}

// -----------------------------------------------------------------------------
// Webhook
// -----------------------------------------------------------------------------

// Webhook is a subscription attached to a job, notified once the job reaches
// Completed. Secret is encrypted at rest and, when present, signs delivery
// bodies with HMAC-SHA256.
type Webhook struct {
	base
	JobID uuid.UUID `gorm:"type:text;not null;index"`
	URL   string    `gorm:"not null"`

	Secret EncryptedString `gorm:"type:text"` // empty for unsigned deliveries

	Attempts    int  `gorm:"not null;default:0"`
	MaxAttempts int  `gorm:"not null;default:3"`
	Delivered   bool `gorm:"not null;default:false"`

	LastAttemptAt *time.Time
	DeliveredAt   *time.Time
	ErrorMessage  string `gorm:"type:text;default:''"`
}
