// Package timetable defines the pure, storage-independent representation of
// an extracted schedule (spec §3) — the shape that flows between the
// Extraction Backends, Timeline Validator, and Orchestrator before the
// Worker Pool persists it via internal/db and internal/repositories.
package timetable

import "github.com/scanline-io/timetablex/internal/types"

// TimeBlock is a concrete scheduled event on a specific weekday.
type TimeBlock struct {
	Day        types.Weekday
	StartTime  int // minute of day, [0, 1440)
	EndTime    int
	EventName  string
	Notes      string
	Color      string
	Confidence *float64
	IsFixed    bool
}

// Duration returns the block's length in minutes.
func (b TimeBlock) Duration() int { return b.EndTime - b.StartTime }

// RecurringBlock is a daily fixture: the same event at the same time across
// multiple days.
type RecurringBlock struct {
	StartTime    int
	EndTime      int
	EventName    string
	AppliesDaily bool
	Notes        string // enumerates specific days when AppliesDaily is false
}

// Overlaps reports whether the half-open interval [start, end) intersects
// this recurring block's window.
func (r RecurringBlock) Overlaps(start, end int) bool {
	return start < r.EndTime && r.StartTime < end
}

// Timetable is the structured output of an extraction, before or after
// validation. Warnings accumulate human-readable notes from both extraction
// and the validator.
type Timetable struct {
	TeacherName string
	ClassName   string
	Term        string
	Week        string

	Blocks          []TimeBlock
	RecurringBlocks []RecurringBlock
	Warnings        []string
}

// ByDay groups Blocks by weekday, preserving relative order within each day.
func (t Timetable) ByDay() map[types.Weekday][]TimeBlock {
	out := make(map[types.Weekday][]TimeBlock)
	for _, b := range t.Blocks {
		out[b.Day] = append(out[b.Day], b)
	}
	return out
}
