package extraction

import (
	"context"
	"testing"

	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/types"
)

func TestStructuredRowOrientedGrid(t *testing.T) {
	text := "Monday 09:00-10:00 Mathematics 10:00-11:00 Science\n" +
		"Tuesday 09:00-10:00 English\n"

	s := NewStructured()
	got, err := s.Extract(context.Background(), preprocessor.ProcessedArtifact{Text: text}, Hint{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Blocks) != 3 {
		t.Fatalf("got %d blocks, want 3: %+v", len(got.Blocks), got.Blocks)
	}
	if got.Blocks[0].Day != types.Monday || got.Blocks[0].EventName != "Mathematics" {
		t.Errorf("first block = %+v", got.Blocks[0])
	}
	if got.Blocks[0].StartTime != 540 || got.Blocks[0].EndTime != 600 {
		t.Errorf("first block time = [%d,%d), want [540,600)", got.Blocks[0].StartTime, got.Blocks[0].EndTime)
	}
	if *got.Blocks[0].Confidence != structuredConfidence {
		t.Errorf("confidence = %v, want %v", *got.Blocks[0].Confidence, structuredConfidence)
	}
}

func TestStructuredColumnOrientedGrid(t *testing.T) {
	text := "      Monday      Tuesday\n" +
		"09:00-10:00  Math   Science\n" +
		"10:00-11:00  Art"

	s := NewStructured()
	got, err := s.Extract(context.Background(), preprocessor.ProcessedArtifact{Text: text}, Hint{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Blocks) != 3 {
		t.Fatalf("got %d blocks, want 3: %+v", len(got.Blocks), got.Blocks)
	}

	byDay := got.ByDay()
	if len(byDay[types.Monday]) != 2 {
		t.Errorf("Monday got %d blocks, want 2", len(byDay[types.Monday]))
	}
	if len(byDay[types.Tuesday]) != 1 {
		t.Errorf("Tuesday got %d blocks, want 1", len(byDay[types.Tuesday]))
	}
}

func TestStructuredAppliesMetadataHint(t *testing.T) {
	s := NewStructured()
	got, err := s.Extract(context.Background(), preprocessor.ProcessedArtifact{
		Text: "Monday 09:00-10:00 Math",
	}, Hint{TeacherName: "Ms. Rivera", ClassName: "5A"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.TeacherName != "Ms. Rivera" || got.ClassName != "5A" {
		t.Errorf("hint not applied: %+v", got)
	}
}

func TestStructuredFailsOnEmptyText(t *testing.T) {
	s := NewStructured()
	_, err := s.Extract(context.Background(), preprocessor.ProcessedArtifact{}, Hint{})
	if err == nil {
		t.Fatal("expected an error for empty text")
	}
}
