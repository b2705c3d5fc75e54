package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/extraction"
	"github.com/scanline-io/timetablex/internal/pipeline"
	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/timetable"
	"github.com/scanline-io/timetablex/internal/types"
)

type fakeBackend struct {
	data timetable.Timetable
	err  error
}

func (f fakeBackend) Extract(context.Context, preprocessor.ProcessedArtifact, extraction.Hint) (timetable.Timetable, error) {
	return f.data, f.err
}

func block(day types.Weekday, start, end int, name string) timetable.TimeBlock {
	return timetable.TimeBlock{Day: day, StartTime: start, EndTime: end, EventName: name}
}

func TestRunSelectsStructuredForSimpleArtifact(t *testing.T) {
	structured := fakeBackend{data: timetable.Timetable{Blocks: []timetable.TimeBlock{block(types.Monday, 540, 600, "Math")}}}
	vision := fakeBackend{err: errors.New("should not be called")}
	hybrid := fakeBackend{err: errors.New("should not be called")}

	o := New(structured, vision, hybrid, pipeline.DefaultConfig(), zap.NewNop())
	res, err := o.Run(context.Background(), preprocessor.ProcessedArtifact{
		MimeType: "image/png",
		Text:     "Monday 09:00-10:00 Mathematics Tuesday 10:00-11:00 Science grid with normal length lines",
	}, extraction.Hint{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Method != types.MethodStructured {
		t.Errorf("Method = %q, want structured", res.Method)
	}
}

func TestRunFallsBackToVisionOnExtractorError(t *testing.T) {
	structured := fakeBackend{err: pipeline.Newf(types.ErrorKindStructuredBackend, "no table found")}
	visionData := timetable.Timetable{Blocks: []timetable.TimeBlock{block(types.Monday, 540, 600, "Math")}}
	vision := fakeBackend{data: visionData}

	o := New(structured, vision, fakeBackend{}, pipeline.DefaultConfig(), zap.NewNop())
	res, err := o.Run(context.Background(), preprocessor.ProcessedArtifact{
		MimeType: "image/png",
		Text:     "Monday 09:00-10:00 Mathematics Tuesday 10:00-11:00 Science grid with normal length lines",
	}, extraction.Hint{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Method != types.MethodVisionErrorFallback {
		t.Errorf("Method = %q, want vision_error_fallback", res.Method)
	}
	if res.Complexity != types.ComplexityComplex {
		t.Errorf("Complexity = %q, want complex on fallback", res.Complexity)
	}
}

func TestRunPropagatesErrorWhenFallbackDisabled(t *testing.T) {
	structured := fakeBackend{err: pipeline.Newf(types.ErrorKindStructuredBackend, "no table found")}
	cfg := pipeline.DefaultConfig()
	cfg.VisionFallbackEnabled = false

	o := New(structured, fakeBackend{err: errors.New("unused")}, fakeBackend{}, cfg, zap.NewNop())
	_, err := o.Run(context.Background(), preprocessor.ProcessedArtifact{
		MimeType: "image/png",
		Text:     "Monday 09:00-10:00 Mathematics Tuesday 10:00-11:00 Science grid with normal length lines",
	}, extraction.Hint{})
	if err == nil {
		t.Fatal("expected the structured error to propagate with fallback disabled")
	}
}

func TestRunSetsElapsedMs(t *testing.T) {
	structured := fakeBackend{data: timetable.Timetable{Blocks: []timetable.TimeBlock{block(types.Monday, 540, 600, "Math")}}}
	var calls int
	now := func() time.Time {
		calls++
		return time.Date(2026, 1, 1, 0, 0, calls, 0, time.UTC)
	}

	o := New(structured, fakeBackend{}, fakeBackend{}, pipeline.DefaultConfig(), zap.NewNop()).WithClock(now)
	res, err := o.Run(context.Background(), preprocessor.ProcessedArtifact{
		MimeType: "image/png",
		Text:     "Monday 09:00-10:00 Mathematics Tuesday 10:00-11:00 Science grid with normal length lines",
	}, extraction.Hint{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ElapsedMs <= 0 {
		t.Errorf("ElapsedMs = %d, want > 0", res.ElapsedMs)
	}
}
