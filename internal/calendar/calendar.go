// Package calendar implements the FullCalendar projection (C11,
// SPEC_FULL.md §C): a pure read-side transform of a completed extraction
// into FullCalendar's recurring-event shape. It holds no state of its own
// and never writes to the Job Store or Blob Store.
package calendar

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scanline-io/timetablex/internal/db"
)

// dayNumber is FullCalendar's day-of-week index: Sunday = 0 .. Saturday = 6.
var dayNumber = map[string]int{
	"Sunday":    0,
	"Monday":    1,
	"Tuesday":   2,
	"Wednesday": 3,
	"Thursday":  4,
	"Friday":    5,
	"Saturday":  6,
}

// Event is one FullCalendar recurring-event object.
type Event struct {
	Title       string `json:"title"`
	DaysOfWeek  []int  `json:"daysOfWeek"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// Metadata carries the timetable's identifying fields alongside the events.
type Metadata struct {
	TeacherName string `json:"teacherName,omitempty"`
	ClassName   string `json:"className,omitempty"`
	Term        string `json:"term,omitempty"`
	Week        string `json:"week,omitempty"`
}

// Projection is the full response body for GET /jobs/{jobId}/fullcalendar.
type Projection struct {
	Events   []Event  `json:"events"`
	Metadata Metadata `json:"metadata"`
}

// Project maps a timetable's TimeBlocks (each pinned to its single weekday)
// and RecurringBlocks (spread across Mon-Fri, or the days enumerated in
// Notes) into FullCalendar recurring-event objects.
func Project(tt *db.ExtractedTimetable, blocks []db.TimeBlock, recurring []db.RecurringBlock) Projection {
	events := make([]Event, 0, len(blocks)+len(recurring))

	for _, b := range blocks {
		day, ok := dayNumber[b.Day]
		if !ok {
			continue
		}
		events = append(events, Event{
			Title:       b.EventName,
			DaysOfWeek:  []int{day},
			StartTime:   formatMinutes(b.StartTime),
			EndTime:     formatMinutes(b.EndTime),
			Color:       b.Color,
			Description: b.Notes,
		})
	}

	for _, r := range recurring {
		events = append(events, Event{
			Title:       r.EventName,
			DaysOfWeek:  recurringDays(r),
			StartTime:   formatMinutes(r.StartTime),
			EndTime:     formatMinutes(r.EndTime),
			Description: r.Notes,
		})
	}

	meta := Metadata{}
	if tt != nil {
		meta = Metadata{
			TeacherName: tt.TeacherName,
			ClassName:   tt.ClassName,
			Term:        tt.Term,
			Week:        tt.Week,
		}
	}

	return Projection{Events: events, Metadata: meta}
}

// formatMinutes renders a minute-of-day value as "HH:MM", the wire format
// spec §6 requires everywhere times appear in results.
func formatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// recurringDays returns the FullCalendar day numbers a RecurringBlock
// spans. AppliesDaily true means Mon-Fri; otherwise the enumerated weekday
// names are recognized in Notes (e.g. "Tue, Thu"), falling back to Mon-Fri
// if none are recognized so the event is never silently dropped.
func recurringDays(r db.RecurringBlock) []int {
	if r.AppliesDaily {
		return []int{1, 2, 3, 4, 5}
	}

	var days []int
	for _, wd := range []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"} {
		if strings.Contains(strings.ToLower(r.Notes), strings.ToLower(wd)) {
			days = append(days, dayNumber[wd])
		}
	}
	if len(days) == 0 {
		return []int{1, 2, 3, 4, 5}
	}
	sort.Ints(days)
	return days
}
