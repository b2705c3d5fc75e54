// Package complexity implements the Complexity Router (C6, spec §4.3): a
// deterministic heuristic scorer that classifies a preprocessed artifact and
// recommends an extraction backend.
package complexity

import (
	"strings"
	"unicode"

	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/types"
)

const (
	weightLowOCRConfidence = 0.25
	weightHandwriting      = 0.30
	weightComplexLayout    = 0.15
	weightScannedPDF       = 0.05
	weightImageQuality     = 0.05

	simpleThreshold = 0.30
	mediumThreshold = 0.60
)

// Result is the router's classification for one artifact.
type Result struct {
	Level       types.ComplexityLevel
	Score       float64
	Reasons     []string
	Recommended types.RecommendedBackend
}

// Classify implements spec §4.3's classify operation. It is a pure function
// of the artifact's text and MIME type, so it is deterministic by
// construction.
func Classify(artifact preprocessor.ProcessedArtifact) Result {
	var score float64
	var reasons []string

	if lowConfidence, reason := lowOCRConfidence(artifact.Text); lowConfidence {
		score += weightLowOCRConfidence
		reasons = append(reasons, reason)
	}

	handwriting, reason := handwritingIndicators(artifact.Text)
	if handwriting {
		score += weightHandwriting
		reasons = append(reasons, reason)
	}

	if complexLayout, reason := complexLayoutIndicator(artifact.Text); complexLayout {
		score += weightComplexLayout
		reasons = append(reasons, reason)
	}

	if scannedPDF, reason := scannedPDFIndicator(artifact); scannedPDF {
		score += weightScannedPDF
		reasons = append(reasons, reason)
	}

	if imgQuality, reason := imageQualityIndicator(artifact); imgQuality {
		score += weightImageQuality
		reasons = append(reasons, reason)
	}

	level := levelFor(score)
	recommended := recommendationFor(level, handwriting)

	return Result{Level: level, Score: score, Reasons: reasons, Recommended: recommended}
}

func levelFor(score float64) types.ComplexityLevel {
	switch {
	case score < simpleThreshold:
		return types.ComplexitySimple
	case score < mediumThreshold:
		return types.ComplexityMedium
	default:
		return types.ComplexityComplex
	}
}

// recommendationFor maps level to a recommended backend; handwriting
// indicators force vision regardless of the numeric level (spec §4.3:
// "complex or handwriting-present -> vision").
func recommendationFor(level types.ComplexityLevel, handwriting bool) types.RecommendedBackend {
	if handwriting || level == types.ComplexityComplex {
		return types.RecommendedVision
	}
	if level == types.ComplexityMedium {
		return types.RecommendedHybrid
	}
	return types.RecommendedStructured
}

// lowOCRConfidence infers OCR confidence from surface statistics of the
// recovered text: punctuation ratio, single-character word ratio, and
// vowel-less word ratio. Empty text is treated as maximally low confidence
// (no evidence recovered at all).
func lowOCRConfidence(text string) (bool, string) {
	if strings.TrimSpace(text) == "" {
		return true, "low_ocr_confidence: no text recovered"
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return true, "low_ocr_confidence: no words recovered"
	}

	var punctChars, totalChars int
	var singleCharWords, vowellessWords int
	for _, w := range words {
		totalChars += len([]rune(w))
		if len([]rune(w)) == 1 {
			singleCharWords++
		}
		if !hasVowel(w) {
			vowellessWords++
		}
		for _, r := range w {
			if unicode.IsPunct(r) {
				punctChars++
			}
		}
	}

	punctRatio := ratio(punctChars, totalChars)
	singleCharRatio := ratio(singleCharWords, len(words))
	vowellessRatio := ratio(vowellessWords, len(words))

	if punctRatio > 0.25 || singleCharRatio > 0.30 || vowellessRatio > 0.40 {
		return true, "low_ocr_confidence: high punctuation/single-character/vowel-less word ratio"
	}
	return false, ""
}

func hasVowel(word string) bool {
	for _, r := range strings.ToLower(word) {
		switch r {
		case 'a', 'e', 'i', 'o', 'u':
			return true
		}
	}
	return false
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// handwritingIndicators looks for inconsistent capitalization (mixed-case
// runs mid-word) combined with glyphs OCR commonly confuses for letters
// when reading handwriting (rn/cl/vv substitutions for m/d/w).
func handwritingIndicators(text string) (bool, string) {
	if text == "" {
		return false, ""
	}

	words := strings.Fields(text)
	var inconsistentCaps int
	for _, w := range words {
		if hasInconsistentCapitalization(w) {
			inconsistentCaps++
		}
	}

	lower := strings.ToLower(text)
	confusionGlyphs := strings.Count(lower, "rn") + strings.Count(lower, "vv") + strings.Count(lower, "cl")

	if ratio(inconsistentCaps, len(words)) > 0.15 && confusionGlyphs > 0 {
		return true, "handwriting_indicators: inconsistent capitalization with OCR-confusion glyphs"
	}
	return false, ""
}

func hasInconsistentCapitalization(word string) bool {
	runes := []rune(word)
	if len(runes) < 3 {
		return false
	}
	sawLower, sawUpperMidWord := false, false
	for i, r := range runes {
		if unicode.IsLower(r) {
			sawLower = true
		}
		if i > 0 && unicode.IsUpper(r) {
			sawUpperMidWord = true
		}
	}
	return sawLower && sawUpperMidWord
}

// complexLayoutIndicator flags unusually short average line lengths, a
// proxy for dense multi-column or grid layouts that are harder to parse
// structurally.
func complexLayoutIndicator(text string) (bool, string) {
	lines := strings.Split(text, "\n")
	var nonEmpty int
	var totalLen int
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			continue
		}
		nonEmpty++
		totalLen += len(trimmed)
	}
	if nonEmpty == 0 {
		return false, ""
	}
	avg := float64(totalLen) / float64(nonEmpty)
	if avg < 12 {
		return true, "complex_layout: short average line length"
	}
	return false, ""
}

// scannedPDFIndicator flags a PDF MIME artifact whose recovered text layer
// has fewer than 20 characters after trimming whitespace — almost certainly
// a scan with no embedded text objects. The file's byte size is not used.
func scannedPDFIndicator(artifact preprocessor.ProcessedArtifact) (bool, string) {
	if artifact.MimeType != "application/pdf" {
		return false, ""
	}
	if len(strings.TrimSpace(artifact.Text)) < 20 {
		return true, "scanned_pdf: negligible text layer"
	}
	return false, ""
}

// imageQualityIndicator is a hard-coded stub (spec §9 Open Questions
// explicitly permits this): a real implementation would measure contrast,
// blur, or resolution against the source image bytes.
func imageQualityIndicator(artifact preprocessor.ProcessedArtifact) (bool, string) {
	_ = artifact
	return false, ""
}
