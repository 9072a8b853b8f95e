package enrich

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"naturelens/llm/llmtest"
	"naturelens/logging"
)

// stubModel answers every prompt with fixed text or error.
type stubModel struct {
	text    string
	err     error
	prompts []string
}

func (s *stubModel) Complete(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.text, s.err
}

func (s *stubModel) Name() string { return "stub" }

func TestCaptioner_Caption(t *testing.T) {
	tests := []struct {
		name  string
		model *stubModel
		want  string
	}{
		{"model answer trimmed", &stubModel{text: "  Fantastic Mr Fox \n"}, "Fantastic Mr Fox"},
		{"empty answer", &stubModel{text: "   "}, "A lovely Red Fox"},
		{"request failure", &stubModel{err: errors.New("timeout")}, "Look, a Red Fox!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCaptioner(tt.model, nil)
			if got := c.Caption(context.Background(), " Red Fox "); got != tt.want {
				t.Errorf("Caption() = %q, want %q", got, tt.want)
			}
			if !strings.Contains(tt.model.prompts[0], "photo of a Red Fox.") {
				t.Errorf("prompt = %q", tt.model.prompts[0])
			}
		})
	}
}

func TestCaptioner_FailureIsLoggedAndReported(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	var reported []error

	c := NewCaptioner(&stubModel{err: errors.New("503")}, logging.NewFromZap(zap.New(core)),
		WithFailureHook(func(err error) { reported = append(reported, err) }))
	c.Caption(context.Background(), "Otter")

	if logs.Len() != 1 {
		t.Errorf("logged %d warnings, want 1", logs.Len())
	}
	if len(reported) != 1 {
		t.Fatalf("hook called %d times, want 1", len(reported))
	}
	var cerr *CaptionError
	if !errors.As(reported[0], &cerr) || cerr.Species != "Otter" {
		t.Errorf("reported = %v, want CaptionError for Otter", reported[0])
	}
}

func TestGeminiText_Caption(t *testing.T) {
	server := llmtest.NewServer(t, func(path string, body map[string]interface{}) (int, interface{}) {
		if !strings.Contains(path, "caption-model:generateContent") {
			t.Errorf("path = %s", path)
		}
		return http.StatusOK, llmtest.GeminiText("Owl be watching you")
	})

	c := NewCaptioner(NewGeminiText(llmtest.GeminiClient(t, server), "caption-model"), nil)
	if got := c.Caption(context.Background(), "Barn Owl"); got != "Owl be watching you" {
		t.Errorf("Caption() = %q", got)
	}
}

func TestOpenAIText_CaptionFailure(t *testing.T) {
	server := llmtest.NewServer(t, func(string, map[string]interface{}) (int, interface{}) {
		return http.StatusInternalServerError, llmtest.OpenAIError("down")
	})

	c := NewCaptioner(NewOpenAIText(llmtest.OpenAIClient(t, server), "gpt-test", 40), nil)
	if got := c.Caption(context.Background(), "Badger"); got != "Look, a Badger!" {
		t.Errorf("Caption() = %q", got)
	}
}
