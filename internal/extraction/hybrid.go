package extraction

import (
	"context"

	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/timetable"
)

// Hybrid runs Structured first, then asks Vision to validate and correct
// that output against the source image (spec §4.4). If the validation call
// fails, the Structured result is returned unchanged.
type Hybrid struct {
	structured *Structured
	vision     *Vision
	log        *zap.Logger
}

// NewHybrid returns a Hybrid backend composing structured and vision.
func NewHybrid(structured *Structured, vision *Vision, log *zap.Logger) *Hybrid {
	return &Hybrid{structured: structured, vision: vision, log: log.Named("hybrid")}
}

// Extract implements Backend.
func (h *Hybrid) Extract(ctx context.Context, artifact preprocessor.ProcessedArtifact, hint Hint) (timetable.Timetable, error) {
	structuredResult, err := h.structured.Extract(ctx, artifact, hint)
	if err != nil {
		return timetable.Timetable{}, err
	}

	validated, err := h.vision.ValidateAgainst(ctx, artifact, hint, structuredResult)
	if err != nil {
		h.log.Warn("vision validation pass failed, returning structured result unchanged", zap.Error(err))
		return structuredResult, nil
	}
	return validated, nil
}
