// Package validator implements the Timeline Validator (C9, spec §4.6): it
// sorts each weekday's TimeBlocks, repairs overlaps and gaps, and emits
// human-readable warnings describing every repair it made.
package validator

import (
	"fmt"
	"sort"

	"github.com/scanline-io/timetablex/internal/timetable"
	"github.com/scanline-io/timetablex/internal/types"
)

const (
	smallGapMaxMinutes       = 5
	transitionMaxMinutes     = 10
	missingCoverageStart     = 9 * 60  // 09:00
	missingCoverageEnd       = 15 * 60 // 15:00
)

// Result is the validator's output: the repaired timetable data plus the
// warnings accumulated during this pass.
type Result struct {
	Data     timetable.Timetable
	Warnings []string
}

// Validate sorts and repairs t's per-day TimeBlocks, leaving RecurringBlocks
// untouched as a separate collection (spec §4.6: "Recurring blocks are
// never merged into the per-day sequence by the validator"). Validate is
// pure and idempotent: Validate(Validate(x).Data).Data == Validate(x).Data,
// because every overlap and small/large gap it finds is neutralized in the
// same pass that finds it, and a warning already present (such as the one
// a recurring-covered gap yields on every pass) is not appended again.
func Validate(t timetable.Timetable) Result {
	var warnings []string
	seen := make(map[string]bool)
	addWarnings := func(ws []string) {
		for _, w := range ws {
			if !seen[w] {
				seen[w] = true
				warnings = append(warnings, w)
			}
		}
	}
	addWarnings(t.Warnings)

	byDay := t.ByDay()
	var allBlocks []timetable.TimeBlock

	for _, day := range types.Weekdays {
		dayBlocks := append([]timetable.TimeBlock(nil), byDay[day]...)
		if len(dayBlocks) == 0 {
			continue
		}

		sort.SliceStable(dayBlocks, func(i, j int) bool {
			return dayBlocks[i].StartTime < dayBlocks[j].StartTime
		})

		repaired, dayWarnings := repairDay(day, dayBlocks, t.RecurringBlocks)
		allBlocks = append(allBlocks, repaired...)
		addWarnings(dayWarnings)
		addWarnings(coverageWarnings(day, repaired))
	}

	out := t
	out.Blocks = allBlocks
	out.Warnings = warnings
	return Result{Data: out, Warnings: warnings}
}

// repairDay walks the sorted blocks for one day, shrinking overlaps,
// extending or bridging gaps, and leaving gaps that a RecurringBlock already
// covers untouched.
func repairDay(day types.Weekday, sorted []timetable.TimeBlock, recurring []timetable.RecurringBlock) ([]timetable.TimeBlock, []string) {
	out := make([]timetable.TimeBlock, 0, len(sorted))
	out = append(out, sorted[0])
	var warnings []string

	for i := 1; i < len(sorted); i++ {
		prev := &out[len(out)-1]
		cur := sorted[i]
		gap := cur.StartTime - prev.EndTime

		switch {
		case gap < 0:
			warnings = append(warnings, fmt.Sprintf(
				"overlap: %q and %q on %s overlap by %d minutes; %q shortened to end at %s",
				prev.EventName, cur.EventName, day, -gap, prev.EventName, formatMinutes(cur.StartTime)))
			prev.EndTime = cur.StartTime
			out = append(out, cur)

		case gap == 0:
			out = append(out, cur)

		case coveredByRecurring(prev.EndTime, cur.StartTime, recurring):
			warnings = append(warnings, fmt.Sprintf(
				"gap_covered_by_recurring: %d-minute gap on %s between %q and %q is covered by a recurring block",
				gap, day, prev.EventName, cur.EventName))
			out = append(out, cur)

		case gap <= smallGapMaxMinutes:
			warnings = append(warnings, fmt.Sprintf(
				"small_gap_filled: extended %q on %s to %s to close a %d-minute gap before %q",
				prev.EventName, day, formatMinutes(cur.StartTime), gap, cur.EventName))
			prev.EndTime = cur.StartTime
			out = append(out, cur)

		default:
			name := "Free Period"
			if gap < transitionMaxMinutes {
				name = "Transition"
			}
			synth := timetable.TimeBlock{
				Day:       day,
				StartTime: prev.EndTime,
				EndTime:   cur.StartTime,
				EventName: name,
				Notes:     fmt.Sprintf("Auto-inserted to fill %d-minute gap", gap),
			}
			warnings = append(warnings, fmt.Sprintf(
				"gap_filled: inserted %q on %s from %s to %s (%d-minute gap between %q and %q)",
				name, day, formatMinutes(synth.StartTime), formatMinutes(synth.EndTime), gap, prev.EventName, cur.EventName))
			out = append(out, synth, cur)
		}
	}

	return out, warnings
}

// coveredByRecurring reports whether the half-open gap [start, end)
// intersects any RecurringBlock window.
func coveredByRecurring(start, end int, recurring []timetable.RecurringBlock) bool {
	if start >= end {
		return false
	}
	for _, r := range recurring {
		if r.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// coverageWarnings emits missing_coverage warnings when a day's schedule
// starts unusually late or ends unusually early (spec §4.6 second pass).
func coverageWarnings(day types.Weekday, blocks []timetable.TimeBlock) []string {
	if len(blocks) == 0 {
		return nil
	}
	earliest, latest := blocks[0].StartTime, blocks[0].EndTime
	for _, b := range blocks[1:] {
		if b.StartTime < earliest {
			earliest = b.StartTime
		}
		if b.EndTime > latest {
			latest = b.EndTime
		}
	}

	var warnings []string
	if earliest > missingCoverageStart {
		warnings = append(warnings, fmt.Sprintf(
			"missing_coverage: %s's earliest block starts at %s, after %s", day, formatMinutes(earliest), formatMinutes(missingCoverageStart)))
	}
	if latest < missingCoverageEnd {
		warnings = append(warnings, fmt.Sprintf(
			"missing_coverage: %s's latest block ends at %s, before %s", day, formatMinutes(latest), formatMinutes(missingCoverageEnd)))
	}
	return warnings
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
