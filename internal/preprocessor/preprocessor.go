// Package preprocessor implements the File Preprocessor (C5, spec §4.2): it
// turns a raw submitted artifact into the text/image evidence the
// Complexity Router and Extraction Backends operate on.
package preprocessor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/pipeline"
	"github.com/scanline-io/timetablex/internal/types"
)

// ProcessedArtifact is the preprocessor's output: whatever text and image
// evidence could be recovered from the submitted artifact.
type ProcessedArtifact struct {
	Text       string
	ImageBytes []byte
	MimeType   string
	Name       string
}

var imageMimeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/gif":  true,
}

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// OCR extracts text evidence from normalized image bytes. Its failure
// degrades the pipeline to image-only evidence rather than aborting it
// (spec §4.2: "OCR is treated as best-effort").
//
// No OCR library is present anywhere in the example pack this service was
// grounded on, so stubOCR below is a deliberate stand-in rather than a
// wrapper around a real engine — see DESIGN.md.
type OCR interface {
	Extract(ctx context.Context, pngBytes []byte) (string, error)
}

// stubOCR always reports an empty extraction with no error: "ran, found
// nothing" rather than "failed", which keeps degrade-don't-abort callers
// simple. Swap in a real OCR client by implementing OCR and passing it to
// New.
type stubOCR struct{}

func (stubOCR) Extract(context.Context, []byte) (string, error) { return "", nil }

// Preprocessor implements Operation preprocess(blob, mime) -> ProcessedArtifact.
type Preprocessor struct {
	ocr OCR
	log *zap.Logger
}

// New returns a Preprocessor. A nil ocr uses stubOCR.
func New(ocr OCR, log *zap.Logger) *Preprocessor {
	if ocr == nil {
		ocr = stubOCR{}
	}
	return &Preprocessor{ocr: ocr, log: log.Named("preprocessor")}
}

// SupportedMimeType reports whether mimeType is one Process can handle,
// letting callers at the API boundary (Submission Facade) reject an
// unsupported artifact synchronously instead of discovering it mid-pipeline.
func SupportedMimeType(mimeType string) bool {
	return imageMimeTypes[mimeType] || mimeType == mimePDF || mimeType == mimeDOCX
}

// Process implements spec §4.2's preprocess operation.
func (p *Preprocessor) Process(ctx context.Context, blob []byte, mimeType, name string) (ProcessedArtifact, error) {
	switch {
	case imageMimeTypes[mimeType]:
		return p.processImage(ctx, blob, mimeType, name)
	case mimeType == mimePDF:
		return p.processPDF(ctx, blob, name)
	case mimeType == mimeDOCX:
		return p.processDOCX(blob, name)
	default:
		return ProcessedArtifact{}, pipeline.Newf(types.ErrorKindUnsupportedType, "unsupported mime type %q", mimeType)
	}
}

// processImage decodes the source image, normalizes it to PNG, and runs
// best-effort OCR over the normalized bytes.
func (p *Preprocessor) processImage(ctx context.Context, blob []byte, mimeType, name string) (ProcessedArtifact, error) {
	img, _, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return ProcessedArtifact{}, pipeline.Wrap(types.ErrorKindOCR, fmt.Errorf("decode image: %w", err))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ProcessedArtifact{}, pipeline.Wrap(types.ErrorKindOCR, fmt.Errorf("normalize to png: %w", err))
	}
	normalized := buf.Bytes()

	text, err := p.ocr.Extract(ctx, normalized)
	if err != nil {
		p.log.Warn("ocr extraction failed, degrading to image-only evidence", zap.Error(err), zap.String("name", name))
		text = ""
	}

	return ProcessedArtifact{Text: text, ImageBytes: normalized, MimeType: "image/png", Name: name}, nil
}

// processPDF extracts whatever textual layer is recoverable and always
// carries the raw bytes forward so the Vision backend can ingest the
// artifact directly when the text layer is thin or absent (spec §4.2).
func (p *Preprocessor) processPDF(ctx context.Context, blob []byte, name string) (ProcessedArtifact, error) {
	text := extractPDFTextLayer(blob)
	if text == "" {
		p.log.Debug("pdf has no recoverable text layer, treating as scanned", zap.String("name", name))
	}
	return ProcessedArtifact{Text: text, ImageBytes: blob, MimeType: mimePDF, Name: name}, nil
}

// processDOCX extracts the raw text runs from word/document.xml. A DOCX is
// a zip archive; no image evidence is produced.
func (p *Preprocessor) processDOCX(blob []byte, name string) (ProcessedArtifact, error) {
	text, err := extractDOCXText(blob)
	if err != nil {
		return ProcessedArtifact{}, pipeline.Wrap(types.ErrorKindUnsupportedType, fmt.Errorf("extract docx text: %w", err))
	}
	return ProcessedArtifact{Text: text, MimeType: mimeDOCX, Name: name}, nil
}

// extractPDFTextLayer applies a light heuristic recovery of literal text
// runs from PDF content streams: it collects every parenthesized string
// literal in the file (the form Tj/TJ show-text operands take) without
// checking which operator follows, which covers uncompressed, non-CID-encoded
// PDFs well enough to drive the Complexity Router's text heuristics. A
// scanned PDF with no text objects yields an empty string, correctly
// signaling the "scanned-PDF indicator" the router looks for.
func extractPDFTextLayer(blob []byte) string {
	var out strings.Builder
	s := string(blob)
	for {
		open := strings.IndexByte(s, '(')
		if open < 0 {
			break
		}
		close := strings.IndexByte(s[open:], ')')
		if close < 0 {
			break
		}
		close += open
		out.WriteString(s[open+1 : close])
		out.WriteByte(' ')
		s = s[close+1:]
	}
	return strings.TrimSpace(out.String())
}
