package validator

import (
	"reflect"
	"testing"

	"github.com/scanline-io/timetablex/internal/timetable"
	"github.com/scanline-io/timetablex/internal/types"
)

func block(day types.Weekday, start, end int, name string) timetable.TimeBlock {
	return timetable.TimeBlock{Day: day, StartTime: start, EndTime: end, EventName: name}
}

func TestValidateShrinksOverlap(t *testing.T) {
	tt := timetable.Timetable{
		Blocks: []timetable.TimeBlock{
			block(types.Monday, 540, 600, "Math"),
			block(types.Monday, 595, 660, "Science"),
		},
	}

	res := Validate(tt)
	got := res.Data.ByDay()[types.Monday]
	if len(got) != 2 {
		t.Fatalf("got %d blocks, want 2", len(got))
	}
	if got[0].EndTime != 595 {
		t.Errorf("Math.EndTime = %d, want 595", got[0].EndTime)
	}
	if !containsPrefix(res.Warnings, "overlap:") {
		t.Errorf("expected an overlap warning, got %v", res.Warnings)
	}
}

func TestValidateExtendsSmallGap(t *testing.T) {
	tt := timetable.Timetable{
		Blocks: []timetable.TimeBlock{
			block(types.Tuesday, 540, 600, "Math"),
			block(types.Tuesday, 603, 660, "Science"),
		},
	}

	res := Validate(tt)
	got := res.Data.ByDay()[types.Tuesday]
	if got[0].EndTime != 603 {
		t.Errorf("Math.EndTime = %d, want 603", got[0].EndTime)
	}
	if !containsPrefix(res.Warnings, "small_gap_filled:") {
		t.Errorf("expected a small_gap_filled warning, got %v", res.Warnings)
	}
}

func TestValidateInsertsTransitionForMediumGap(t *testing.T) {
	tt := timetable.Timetable{
		Blocks: []timetable.TimeBlock{
			block(types.Wednesday, 540, 600, "Math"),
			block(types.Wednesday, 608, 660, "Science"),
		},
	}

	res := Validate(tt)
	got := res.Data.ByDay()[types.Wednesday]
	if len(got) != 3 {
		t.Fatalf("got %d blocks, want 3 (synthetic transition inserted)", len(got))
	}
	if got[1].EventName != "Transition" {
		t.Errorf("synthetic block name = %q, want Transition", got[1].EventName)
	}
	if got[1].StartTime != 600 || got[1].EndTime != 608 {
		t.Errorf("synthetic block span = [%d,%d), want [600,608)", got[1].StartTime, got[1].EndTime)
	}
}

func TestValidateInsertsFreePeriodForLargeGap(t *testing.T) {
	tt := timetable.Timetable{
		Blocks: []timetable.TimeBlock{
			block(types.Thursday, 540, 600, "Math"),
			block(types.Thursday, 630, 660, "Science"),
		},
	}

	res := Validate(tt)
	got := res.Data.ByDay()[types.Thursday]
	if len(got) != 3 {
		t.Fatalf("got %d blocks, want 3", len(got))
	}
	if got[1].EventName != "Free Period" {
		t.Errorf("synthetic block name = %q, want Free Period", got[1].EventName)
	}
}

func TestValidateLeavesRecurringCoveredGapUntouched(t *testing.T) {
	tt := timetable.Timetable{
		Blocks: []timetable.TimeBlock{
			block(types.Friday, 540, 600, "Math"),
			block(types.Friday, 630, 660, "Science"),
		},
		RecurringBlocks: []timetable.RecurringBlock{
			{StartTime: 600, EndTime: 630, EventName: "Lunch", AppliesDaily: true},
		},
	}

	res := Validate(tt)
	got := res.Data.ByDay()[types.Friday]
	if len(got) != 2 {
		t.Fatalf("got %d blocks, want 2 (no synthetic block over a recurring-covered gap)", len(got))
	}
	if got[0].EndTime != 600 || got[1].StartTime != 630 {
		t.Errorf("gap endpoints altered: got [%d,%d]", got[0].EndTime, got[1].StartTime)
	}
	if !containsPrefix(res.Warnings, "gap_covered_by_recurring:") {
		t.Errorf("expected a gap_covered_by_recurring warning, got %v", res.Warnings)
	}
}

func TestValidateFlagsMissingCoverage(t *testing.T) {
	tt := timetable.Timetable{
		Blocks: []timetable.TimeBlock{
			block(types.Monday, 660, 720, "Math"),
		},
	}

	res := Validate(tt)
	if !containsPrefix(res.Warnings, "missing_coverage:") {
		t.Errorf("expected a missing_coverage warning, got %v", res.Warnings)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	tt := timetable.Timetable{
		Blocks: []timetable.TimeBlock{
			block(types.Monday, 540, 600, "Math"),
			block(types.Monday, 595, 660, "Science"),
			block(types.Monday, 690, 700, "Art"),
		},
		RecurringBlocks: []timetable.RecurringBlock{
			{StartTime: 660, EndTime: 690, EventName: "Lunch", AppliesDaily: true},
		},
	}

	once := Validate(tt).Data
	twice := Validate(once).Data

	if !reflect.DeepEqual(once.Blocks, twice.Blocks) {
		t.Errorf("Validate is not idempotent on Blocks:\nonce:  %+v\ntwice: %+v", once.Blocks, twice.Blocks)
	}
}

func containsPrefix(warnings []string, prefix string) bool {
	for _, w := range warnings {
		if len(w) >= len(prefix) && w[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
