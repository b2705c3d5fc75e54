package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/pipeline"
	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/timetable"
	"github.com/scanline-io/timetablex/internal/types"
)

const extractionSystemPrompt = `You are a timetable extraction engine. Given an image and any OCR text evidence, output exactly one JSON object and nothing else, matching this shape:
{"metadata":{"teacherName":"","className":"","term":"","week":""},"blocks":[{"day":"Monday","startTime":"09:00","endTime":"10:00","eventName":"","notes":"","color":"","confidence":0.0,"isFixed":false}],"recurringBlocks":[{"startTime":"12:00","endTime":"13:00","eventName":"Lunch","appliesDaily":true,"notes":""}],"warnings":[]}`

const validationSystemPrompt = `You are validating a structurally-extracted timetable against the source image. Correct errors, fill gaps you can see evidence for, and identify recurring blocks the structured pass missed. Output exactly one JSON object in the same shape you were given.`

// visionClient is the narrow capability Vision needs from a multimodal
// model client, kept separate from the concrete SDK type so tests can
// substitute a fake.
type visionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, imageBytes []byte, mediaType string) (string, error)
}

// Vision is the Vision backend (spec §4.4): submits the image, OCR text,
// and metadata hint to a multimodal model under a fixed-schema system
// prompt at temperature 0.
type Vision struct {
	client visionClient
	log    *zap.Logger
}

// NewVision returns a Vision backend using anthropicClient, circuit-broken
// per call.
func NewVision(apiKey string, log *zap.Logger) *Vision {
	return &Vision{client: newAnthropicClient(apiKey, log), log: log.Named("vision")}
}

// NewVisionWithClient returns a Vision backend using an explicit client,
// primarily for tests.
func NewVisionWithClient(client visionClient, log *zap.Logger) *Vision {
	return &Vision{client: client, log: log.Named("vision")}
}

// Extract implements Backend.
func (v *Vision) Extract(ctx context.Context, artifact preprocessor.ProcessedArtifact, hint Hint) (timetable.Timetable, error) {
	return v.extract(ctx, artifact, hint, extractionSystemPrompt, "")
}

// ValidateAgainst runs the Vision backend in validation mode (spec §4.4
// Hybrid composition): it is given the Structured backend's output as
// context alongside the image, and asked to correct/fill/identify recurring
// blocks rather than extract from scratch.
func (v *Vision) ValidateAgainst(ctx context.Context, artifact preprocessor.ProcessedArtifact, hint Hint, structured timetable.Timetable) (timetable.Timetable, error) {
	prior, err := json.Marshal(structured)
	if err != nil {
		return timetable.Timetable{}, pipeline.Wrap(types.ErrorKindVisionBackend, fmt.Errorf("marshal structured prior: %w", err))
	}
	return v.extract(ctx, artifact, hint, validationSystemPrompt, string(prior))
}

func (v *Vision) extract(ctx context.Context, artifact preprocessor.ProcessedArtifact, hint Hint, systemPrompt, priorJSON string) (timetable.Timetable, error) {
	var userPrompt strings.Builder
	if artifact.Text != "" {
		userPrompt.WriteString("OCR text evidence:\n")
		userPrompt.WriteString(artifact.Text)
		userPrompt.WriteString("\n\n")
	}
	if hint.TeacherName != "" || hint.ClassName != "" {
		fmt.Fprintf(&userPrompt, "Metadata hint: teacher=%q class=%q\n\n", hint.TeacherName, hint.ClassName)
	}
	if priorJSON != "" {
		userPrompt.WriteString("Structured-pass output to validate:\n")
		userPrompt.WriteString(priorJSON)
		userPrompt.WriteString("\n\n")
	}

	raw, err := v.client.Complete(ctx, systemPrompt, userPrompt.String(), artifact.ImageBytes, mediaTypeFor(artifact.MimeType))
	if err != nil {
		return timetable.Timetable{}, pipeline.Wrap(types.ErrorKindVisionBackend, err)
	}

	parsed, err := parseVisionJSON(raw)
	if err != nil {
		return timetable.Timetable{}, pipeline.Wrap(types.ErrorKindVisionBackend, fmt.Errorf("parse model output: %w", err))
	}

	t, err := parsed.toTimetable()
	if err != nil {
		return timetable.Timetable{}, pipeline.Wrap(types.ErrorKindVisionBackend, err)
	}
	return applyHint(t, hint), nil
}

func mediaTypeFor(mime string) string {
	if mime == "" {
		return "image/png"
	}
	return mime
}

// visionResponse mirrors extractionSystemPrompt's required JSON shape.
type visionResponse struct {
	Metadata struct {
		TeacherName string `json:"teacherName"`
		ClassName   string `json:"className"`
		Term        string `json:"term"`
		Week        string `json:"week"`
	} `json:"metadata"`
	Blocks []struct {
		Day        string   `json:"day"`
		StartTime  string   `json:"startTime"`
		EndTime    string   `json:"endTime"`
		EventName  string   `json:"eventName"`
		Notes      string   `json:"notes"`
		Color      string   `json:"color"`
		Confidence *float64 `json:"confidence"`
		IsFixed    bool     `json:"isFixed"`
	} `json:"blocks"`
	RecurringBlocks []struct {
		StartTime    string `json:"startTime"`
		EndTime      string `json:"endTime"`
		EventName    string `json:"eventName"`
		AppliesDaily bool   `json:"appliesDaily"`
		Notes        string `json:"notes"`
	} `json:"recurringBlocks"`
	Warnings []string `json:"warnings"`
}

func (r visionResponse) toTimetable() (timetable.Timetable, error) {
	t := timetable.Timetable{
		TeacherName: r.Metadata.TeacherName,
		ClassName:   r.Metadata.ClassName,
		Term:        r.Metadata.Term,
		Week:        r.Metadata.Week,
		Warnings:    r.Warnings,
	}

	for _, b := range r.Blocks {
		day, ok := types.ParseWeekday(b.Day)
		if !ok {
			return timetable.Timetable{}, fmt.Errorf("invalid day %q in model output", b.Day)
		}
		start, err := parseHHMM(b.StartTime)
		if err != nil {
			return timetable.Timetable{}, fmt.Errorf("block startTime: %w", err)
		}
		end, err := parseHHMM(b.EndTime)
		if err != nil {
			return timetable.Timetable{}, fmt.Errorf("block endTime: %w", err)
		}
		t.Blocks = append(t.Blocks, timetable.TimeBlock{
			Day: day, StartTime: start, EndTime: end, EventName: b.EventName,
			Notes: b.Notes, Color: b.Color, Confidence: b.Confidence, IsFixed: b.IsFixed,
		})
	}

	for _, r := range r.RecurringBlocks {
		start, err := parseHHMM(r.StartTime)
		if err != nil {
			return timetable.Timetable{}, fmt.Errorf("recurring startTime: %w", err)
		}
		end, err := parseHHMM(r.EndTime)
		if err != nil {
			return timetable.Timetable{}, fmt.Errorf("recurring endTime: %w", err)
		}
		t.RecurringBlocks = append(t.RecurringBlocks, timetable.RecurringBlock{
			StartTime: start, EndTime: end, EventName: r.EventName, AppliesDaily: r.AppliesDaily, Notes: r.Notes,
		})
	}

	return t, nil
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid HH:MM value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	return h*60 + m, nil
}

// parseVisionJSON extracts the first balanced {...} region of raw and
// unmarshals it, per spec §4.4: "parsed by extracting the first balanced
// {…} region and validating against the schema".
func parseVisionJSON(raw string) (visionResponse, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return visionResponse{}, fmt.Errorf("no JSON object found in model output")
	}

	depth := 0
	end := -1
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return visionResponse{}, fmt.Errorf("unbalanced JSON object in model output")
	}

	var resp visionResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return visionResponse{}, fmt.Errorf("unmarshal model output: %w", err)
	}
	return resp, nil
}

// anthropicClient wraps the real anthropic-sdk-go client behind visionClient,
// with a circuit breaker around each call (spec SPEC_FULL.md §C: "avoiding a
// thundering herd of 60s-timeout calls to a backend that is already down").
type anthropicClient struct {
	client  anthropic.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func newAnthropicClient(apiKey string, log *zap.Logger) *anthropicClient {
	return &anthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "vision-backend",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		log: log.Named("anthropic-client"),
	}
}

func (c *anthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string, imageBytes []byte, mediaType string) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.complete(ctx, systemPrompt, userPrompt, imageBytes, mediaType)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *anthropicClient) complete(ctx context.Context, systemPrompt, userPrompt string, imageBytes []byte, mediaType string) (string, error) {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(userPrompt)}
	if len(imageBytes) > 0 {
		encoded := base64.StdEncoding.EncodeToString(imageBytes)
		blocks = append([]anthropic.ContentBlockParamUnion{
			anthropic.NewImageBlockBase64(mediaType, encoded),
		}, blocks...)
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.ModelClaude3_5SonnetLatest,
		MaxTokens:   4096,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	if len(msg.Content) == 0 {
		return "", fmt.Errorf("anthropic response had no content blocks")
	}
	return msg.Content[0].Text, nil
}

