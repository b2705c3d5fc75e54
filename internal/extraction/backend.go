// Package extraction implements the Extraction Backends (C8, spec §4.4):
// Structured, Vision, and Hybrid, all sharing the uniform
// extract(ProcessedArtifact, metadataHint) -> ExtractedTimetable operation.
package extraction

import (
	"context"

	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/timetable"
)

// Hint carries submitter-provided metadata that overrides whatever a
// backend infers from the artifact itself (spec §4.4: "metadata from the
// hint overrides model-inferred metadata when both are present").
type Hint struct {
	TeacherName string
	ClassName   string
}

// Backend is the uniform capability implemented by Structured, Vision, and
// Hybrid.
type Backend interface {
	Extract(ctx context.Context, artifact preprocessor.ProcessedArtifact, hint Hint) (timetable.Timetable, error)
}

func applyHint(t timetable.Timetable, hint Hint) timetable.Timetable {
	if hint.TeacherName != "" {
		t.TeacherName = hint.TeacherName
	}
	if hint.ClassName != "" {
		t.ClassName = hint.ClassName
	}
	return t
}
