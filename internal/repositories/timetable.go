package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/scanline-io/timetablex/internal/db"
	"gorm.io/gorm"
)

// gormTimetableRepository is the GORM implementation of TimetableRepository.
type gormTimetableRepository struct {
	db *gorm.DB
}

// NewTimetableRepository returns a TimetableRepository backed by the
// provided *gorm.DB.
func NewTimetableRepository(db *gorm.DB) TimetableRepository {
	return &gormTimetableRepository{db: db}
}

// CreateWithBlocks inserts an ExtractedTimetable along with its Blocks and
// RecurringBlocks in a single transaction — the Worker Pool calls this as
// part of the atomic Processing -> Completed write (spec §4.7 step 5).
func (r *gormTimetableRepository) CreateWithBlocks(ctx context.Context, t *db.ExtractedTimetable) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		blocks := t.Blocks
		recurring := t.RecurringBlocks
		t.Blocks = nil
		t.RecurringBlocks = nil

		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("timetables: create: %w", err)
		}

		for i := range blocks {
			blocks[i].TimetableID = t.ID
		}
		if len(blocks) > 0 {
			if err := tx.Create(&blocks).Error; err != nil {
				return fmt.Errorf("timetables: create blocks: %w", err)
			}
		}

		for i := range recurring {
			recurring[i].TimetableID = t.ID
		}
		if len(recurring) > 0 {
			if err := tx.Create(&recurring).Error; err != nil {
				return fmt.Errorf("timetables: create recurring blocks: %w", err)
			}
		}

		t.Blocks = blocks
		t.RecurringBlocks = recurring
		return nil
	})
}

// GetByID retrieves a timetable and its blocks by the timetable's own ID.
func (r *gormTimetableRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.ExtractedTimetable, []db.TimeBlock, []db.RecurringBlock, error) {
	var t db.ExtractedTimetable
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, ErrNotFound
		}
		return nil, nil, nil, fmt.Errorf("timetables: get by id: %w", err)
	}
	return r.loadBlocks(ctx, &t)
}

// GetByJobID retrieves a timetable and its blocks by the owning job's ID.
func (r *gormTimetableRepository) GetByJobID(ctx context.Context, jobID uuid.UUID) (*db.ExtractedTimetable, []db.TimeBlock, []db.RecurringBlock, error) {
	var t db.ExtractedTimetable
	if err := r.db.WithContext(ctx).First(&t, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, ErrNotFound
		}
		return nil, nil, nil, fmt.Errorf("timetables: get by job id: %w", err)
	}
	return r.loadBlocks(ctx, &t)
}

func (r *gormTimetableRepository) loadBlocks(ctx context.Context, t *db.ExtractedTimetable) (*db.ExtractedTimetable, []db.TimeBlock, []db.RecurringBlock, error) {
	var blocks []db.TimeBlock
	if err := r.db.WithContext(ctx).
		Where("timetable_id = ?", t.ID).
		Order("day ASC, start_time ASC").
		Find(&blocks).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("timetables: get blocks: %w", err)
	}

	var recurring []db.RecurringBlock
	if err := r.db.WithContext(ctx).
		Where("timetable_id = ?", t.ID).
		Order("start_time ASC").
		Find(&recurring).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("timetables: get recurring blocks: %w", err)
	}

	return t, blocks, recurring, nil
}
