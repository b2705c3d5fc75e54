// Package pipeline holds the cross-cutting configuration and error taxonomy
// shared by the extraction pipeline's components, replacing the scattered
// environment reads and substring-matched error classification the source
// program used (spec §9 Design Notes).
package pipeline

import "time"

// Config is assembled once at startup from CLI flags / environment and
// passed by value into the Orchestrator and Worker Pool. It is never
// re-read from the environment inside business logic.
type Config struct {
	StructuredEnabled     bool
	HybridEnabled         bool
	VisionFallbackEnabled bool

	WorkerConcurrency    int
	MaxRetries           int
	VisibilityTimeoutSec int
	LongPollSec          int
	BackendTimeoutSec    int
}

// DefaultConfig returns the spec's documented defaults (§6 Environment
// surface): 5 workers, 3 retries, 300s visibility timeout, 20s long poll,
// 60s backend timeout, all three routing paths enabled.
func DefaultConfig() Config {
	return Config{
		StructuredEnabled:     true,
		HybridEnabled:         true,
		VisionFallbackEnabled: true,
		WorkerConcurrency:     5,
		MaxRetries:            3,
		VisibilityTimeoutSec:  300,
		LongPollSec:           20,
		BackendTimeoutSec:     60,
	}
}

// VisibilityTimeout returns the configured visibility timeout as a
// time.Duration.
func (c Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSec) * time.Second
}

// LongPoll returns the configured queue long-poll wait as a time.Duration.
func (c Config) LongPoll() time.Duration {
	return time.Duration(c.LongPollSec) * time.Second
}

// BackendTimeout returns the configured backend HTTP timeout as a
// time.Duration.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSec) * time.Second
}

// FeatureFlags is the routing subset of Config that can also come from a
// YAML file watched by internal/pipeline.FlagWatcher; the server overlays it
// onto Config once at startup (SPEC_FULL.md §A).
type FeatureFlags struct {
	StructuredEnabled     bool `yaml:"structuredEnabled"`
	HybridEnabled         bool `yaml:"hybridEnabled"`
	VisionFallbackEnabled bool `yaml:"visionFallbackEnabled"`
}

// Apply overlays the watched flags onto the base config, leaving all
// non-flag fields (concurrency, timeouts) untouched.
func (f FeatureFlags) Apply(c Config) Config {
	c.StructuredEnabled = f.StructuredEnabled
	c.HybridEnabled = f.HybridEnabled
	c.VisionFallbackEnabled = f.VisionFallbackEnabled
	return c
}
