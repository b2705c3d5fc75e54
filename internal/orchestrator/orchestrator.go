// Package orchestrator implements the Extraction Orchestrator (C7, spec
// §4.5): it classifies a preprocessed artifact, selects an extraction path,
// applies the in-process vision fallback on extractor-level failure, and
// runs the result through the Timeline Validator.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/complexity"
	"github.com/scanline-io/timetablex/internal/extraction"
	"github.com/scanline-io/timetablex/internal/pipeline"
	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/timetable"
	"github.com/scanline-io/timetablex/internal/types"
	"github.com/scanline-io/timetablex/internal/validator"
)

// Result is the Orchestrator's output for one artifact.
type Result struct {
	Data       timetable.Timetable
	Method     types.ExtractionMethod
	Complexity types.ComplexityLevel
	ElapsedMs  int64
}

// Orchestrator wires the Complexity Router, the three Extraction Backends,
// and the Timeline Validator together per spec §4.5's path-selection
// algorithm.
type Orchestrator struct {
	structured extraction.Backend
	vision     extraction.Backend
	hybrid     extraction.Backend
	config     pipeline.Config
	log        *zap.Logger
	now        func() time.Time
}

// New returns an Orchestrator. now defaults to time.Now; tests may override
// it via WithClock.
func New(structured, vision, hybrid extraction.Backend, config pipeline.Config, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		structured: structured,
		vision:     vision,
		hybrid:     hybrid,
		config:     config,
		log:        log.Named("orchestrator"),
		now:        time.Now,
	}
}

// WithClock overrides the Orchestrator's time source, for deterministic
// elapsed-time tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run implements spec §4.5's run operation.
func (o *Orchestrator) Run(ctx context.Context, artifact preprocessor.ProcessedArtifact, hint extraction.Hint) (Result, error) {
	start := o.now()

	classified := complexity.Classify(artifact)
	backend, method := o.selectPath(classified)

	data, err := backend.Extract(ctx, artifact, hint)
	level := classified.Level

	if err != nil && isExtractorError(err) && o.config.VisionFallbackEnabled && method != types.MethodVision {
		o.log.Warn("primary extraction path failed, retrying with vision fallback",
			zap.String("method", string(method)), zap.Error(err))
		data, err = o.vision.Extract(ctx, artifact, hint)
		method = types.MethodVisionErrorFallback
		level = types.ComplexityComplex
	}
	if err != nil {
		return Result{}, err
	}

	validated := validator.Validate(data)

	return Result{
		Data:       validated.Data,
		Method:     method,
		Complexity: level,
		ElapsedMs:  o.now().Sub(start).Milliseconds(),
	}, nil
}

// isExtractorError reports whether err came from a backend's own extraction
// logic (as opposed to, say, context cancellation), the only class of
// failure spec §4.5 step 3 retries with the vision fallback.
func isExtractorError(err error) bool {
	switch pipeline.KindOf(err) {
	case types.ErrorKindStructuredBackend, types.ErrorKindVisionBackend, types.ErrorKindOCR:
		return true
	default:
		return false
	}
}

// selectPath implements spec §4.5 step 2.
func (o *Orchestrator) selectPath(c complexity.Result) (extraction.Backend, types.ExtractionMethod) {
	switch {
	case o.config.StructuredEnabled && c.Recommended == types.RecommendedStructured:
		return o.structured, types.MethodStructured
	case c.Recommended == types.RecommendedVision || !o.config.StructuredEnabled:
		return o.vision, types.MethodVision
	case c.Recommended == types.RecommendedHybrid && o.config.HybridEnabled:
		return o.hybrid, types.MethodHybrid
	default:
		return o.vision, types.MethodVision
	}
}
