package extraction

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/types"
)

type fakeVisionClient struct {
	response string
	err      error
}

func (f fakeVisionClient) Complete(context.Context, string, string, []byte, string) (string, error) {
	return f.response, f.err
}

func TestVisionExtractParsesFirstBalancedJSON(t *testing.T) {
	client := fakeVisionClient{response: "Here is the result:\n" +
		`{"metadata":{"teacherName":"Ms. Lee","className":"3B"},"blocks":[{"day":"Monday","startTime":"09:00","endTime":"10:00","eventName":"Math","confidence":0.7}],"recurringBlocks":[],"warnings":["low confidence"]}` +
		"\nThanks."}

	v := NewVisionWithClient(client, zap.NewNop())
	got, err := v.Extract(context.Background(), preprocessor.ProcessedArtifact{MimeType: "image/png"}, Hint{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.TeacherName != "Ms. Lee" || got.ClassName != "3B" {
		t.Errorf("metadata = %+v", got)
	}
	if len(got.Blocks) != 1 || got.Blocks[0].Day != types.Monday || got.Blocks[0].EventName != "Math" {
		t.Errorf("blocks = %+v", got.Blocks)
	}
	if len(got.Warnings) != 1 {
		t.Errorf("warnings = %v", got.Warnings)
	}
}

func TestVisionExtractHintOverridesModelMetadata(t *testing.T) {
	client := fakeVisionClient{response: `{"metadata":{"teacherName":"Model Guess"},"blocks":[],"recurringBlocks":[],"warnings":[]}`}

	v := NewVisionWithClient(client, zap.NewNop())
	got, err := v.Extract(context.Background(), preprocessor.ProcessedArtifact{}, Hint{TeacherName: "Submitter Name"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.TeacherName != "Submitter Name" {
		t.Errorf("TeacherName = %q, want hint to win", got.TeacherName)
	}
}

func TestVisionExtractPropagatesClientError(t *testing.T) {
	client := fakeVisionClient{err: errors.New("timeout")}
	v := NewVisionWithClient(client, zap.NewNop())
	_, err := v.Extract(context.Background(), preprocessor.ProcessedArtifact{}, Hint{})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestVisionExtractRejectsUnbalancedJSON(t *testing.T) {
	client := fakeVisionClient{response: `{"metadata":{"teacherName":"X"}`}
	v := NewVisionWithClient(client, zap.NewNop())
	_, err := v.Extract(context.Background(), preprocessor.ProcessedArtifact{}, Hint{})
	if err == nil {
		t.Fatal("expected an error for unbalanced JSON")
	}
}
