// Package enrich produces the optional extras around a classification:
// a short caption per photo and a web-grounded summary per album.
// Neither ever fails past this package; failures turn into fixed fallbacks.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"naturelens/llm"
)

// TextModel is a single-prompt text completion.
type TextModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// FailureHook receives every absorbed *CaptionError and *SummaryError.
type FailureHook func(err error)

// Option configures a Captioner or Summarizer.
type Option func(*options)

type options struct {
	onFailure FailureHook
}

// WithFailureHook registers fn to observe absorbed failures.
func WithFailureHook(fn FailureHook) Option {
	return func(o *options) {
		o.onFailure = fn
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.onFailure == nil {
		o.onFailure = func(error) {}
	}
	return o
}

// GeminiText completes prompts with a Gemini model.
type GeminiText struct {
	client *genai.Client
	model  string
}

// NewGeminiText wraps client for model.
func NewGeminiText(client *genai.Client, model string) *GeminiText {
	return &GeminiText{client: client, model: model}
}

func (g *GeminiText) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return llm.ResponseText(resp), nil
}

func (g *GeminiText) Name() string { return g.model }

// OpenAIText completes prompts with an OpenAI chat model.
type OpenAIText struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIText wraps client for model.
func NewOpenAIText(client *openai.Client, model string, maxTokens int) *OpenAIText {
	return &OpenAIText{client: client, model: model, maxTokens: maxTokens}
}

func (o *OpenAIText) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIText) Name() string { return o.model }

// CaptionError records a failed caption request. It is logged and counted,
// never returned.
type CaptionError struct {
	Species string
	Err     error
}

func (e *CaptionError) Error() string {
	return fmt.Sprintf("caption for %q: %v", e.Species, e.Err)
}

func (e *CaptionError) Unwrap() error {
	return e.Err
}

// SummaryError records a failed summary request. It is logged and counted,
// never returned.
type SummaryError struct {
	Species string
	Err     error
}

func (e *SummaryError) Error() string {
	return fmt.Sprintf("summary for %q: %v", e.Species, e.Err)
}

func (e *SummaryError) Unwrap() error {
	return e.Err
}

func cleanSpecies(species string) string {
	return strings.TrimSpace(species)
}
