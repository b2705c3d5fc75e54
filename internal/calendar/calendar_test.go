package calendar

import (
	"testing"

	"github.com/scanline-io/timetablex/internal/db"
)

func TestProjectMapsTimeBlockToSingleDay(t *testing.T) {
	tt := &db.ExtractedTimetable{TeacherName: "Ms. Rao", ClassName: "9B"}
	blocks := []db.TimeBlock{
		{Day: "Monday", StartTime: 540, EndTime: 600, EventName: "Maths"},
	}

	proj := Project(tt, blocks, nil)

	if len(proj.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(proj.Events))
	}
	ev := proj.Events[0]
	if ev.Title != "Maths" || ev.StartTime != "09:00" || ev.EndTime != "10:00" {
		t.Errorf("event = %+v", ev)
	}
	if len(ev.DaysOfWeek) != 1 || ev.DaysOfWeek[0] != 1 {
		t.Errorf("daysOfWeek = %v, want [1] (Monday)", ev.DaysOfWeek)
	}
	if proj.Metadata.TeacherName != "Ms. Rao" || proj.Metadata.ClassName != "9B" {
		t.Errorf("metadata = %+v", proj.Metadata)
	}
}

func TestProjectAppliesDailyRecurringBlockSpansMondayToFriday(t *testing.T) {
	recurring := []db.RecurringBlock{
		{StartTime: 720, EndTime: 750, EventName: "Lunch", AppliesDaily: true},
	}

	proj := Project(nil, nil, recurring)

	if len(proj.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(proj.Events))
	}
	want := []int{1, 2, 3, 4, 5}
	got := proj.Events[0].DaysOfWeek
	if len(got) != len(want) {
		t.Fatalf("daysOfWeek = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("daysOfWeek = %v, want %v", got, want)
		}
	}
}

func TestProjectEnumeratedRecurringBlockRespectsNotes(t *testing.T) {
	recurring := []db.RecurringBlock{
		{StartTime: 600, EndTime: 630, EventName: "Assembly", AppliesDaily: false, Notes: "Tuesday and Thursday only"},
	}

	proj := Project(nil, nil, recurring)

	got := proj.Events[0].DaysOfWeek
	want := []int{2, 4}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("daysOfWeek = %v, want %v", got, want)
	}
}

func TestProjectUnrecognizedEnumerationFallsBackToWeekdays(t *testing.T) {
	recurring := []db.RecurringBlock{
		{StartTime: 600, EndTime: 630, EventName: "Assembly", AppliesDaily: false, Notes: "every other week"},
	}

	proj := Project(nil, nil, recurring)

	if len(proj.Events[0].DaysOfWeek) != 5 {
		t.Errorf("expected fallback to Mon-Fri, got %v", proj.Events[0].DaysOfWeek)
	}
}

func TestProjectSkipsTimeBlockWithUnrecognizedDay(t *testing.T) {
	blocks := []db.TimeBlock{
		{Day: "Someday", StartTime: 540, EndTime: 600, EventName: "Ghost"},
	}

	proj := Project(nil, blocks, nil)

	if len(proj.Events) != 0 {
		t.Errorf("expected unrecognized day to be skipped, got %d events", len(proj.Events))
	}
}
