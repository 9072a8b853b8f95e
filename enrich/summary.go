package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"naturelens/llm"
	"naturelens/logging"
)

// SummaryPrompt is formatted with the species name.
const SummaryPrompt = "Find a brief, interesting educational summary about the %s. Focus on conservation status or unique behaviors."

// Fallback summary texts.
const (
	SummaryUnavailable = "Information currently unavailable."
	SummaryFailed      = "Could not fetch online details."
)

// Summary is the grounded text for an album. URL is empty when the answer
// carried no web citation.
type Summary struct {
	Text string `json:"text" yaml:"text"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Summarizer fetches a short educational summary for a species.
// Text is never empty.
type Summarizer interface {
	Summarize(ctx context.Context, species string) Summary
}

// GeminiSummarizer asks Gemini with Google Search grounding and keeps the
// first cited web page as the source URL.
type GeminiSummarizer struct {
	client *genai.Client
	model  string
	logger *logging.Logger
	opts   options
}

// NewGeminiSummarizer creates a grounded summarizer.
func NewGeminiSummarizer(client *genai.Client, model string, logger *logging.Logger, opts ...Option) *GeminiSummarizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GeminiSummarizer{
		client: client,
		model:  model,
		logger: logger.Named("summary"),
		opts:   applyOptions(opts),
	}
}

func (s *GeminiSummarizer) Summarize(ctx context.Context, species string) Summary {
	species = cleanSpecies(species)
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}

	start := time.Now()
	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(fmt.Sprintf(SummaryPrompt, species)), config)
	if err != nil {
		serr := &SummaryError{Species: species, Err: err}
		s.logger.Warn("summary failed, using fallback",
			zap.String("model", s.model),
			zap.String("species", species),
			zap.Error(serr))
		s.opts.onFailure(serr)
		return Summary{Text: SummaryFailed}
	}

	summary := Summary{
		Text: strings.TrimSpace(llm.ResponseText(resp)),
		URL:  llm.FirstWebSource(resp),
	}
	if summary.Text == "" {
		summary.Text = SummaryUnavailable
	}

	s.logger.Debug("summary fetched",
		zap.String("species", species),
		zap.Bool("grounded", summary.URL != ""),
		zap.Duration("duration", time.Since(start)))
	return summary
}

// TextSummarizer summarizes with a plain text model. There is no grounding,
// so URL is always empty. Used when no Gemini key is configured.
type TextSummarizer struct {
	model  TextModel
	logger *logging.Logger
	opts   options
}

// NewTextSummarizer creates an ungrounded summarizer over model.
func NewTextSummarizer(model TextModel, logger *logging.Logger, opts ...Option) *TextSummarizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TextSummarizer{
		model:  model,
		logger: logger.Named("summary"),
		opts:   applyOptions(opts),
	}
}

func (s *TextSummarizer) Summarize(ctx context.Context, species string) Summary {
	species = cleanSpecies(species)

	text, err := s.model.Complete(ctx, fmt.Sprintf(SummaryPrompt, species))
	if err != nil {
		serr := &SummaryError{Species: species, Err: err}
		s.logger.Warn("summary failed, using fallback",
			zap.String("model", s.model.Name()),
			zap.String("species", species),
			zap.Error(serr))
		s.opts.onFailure(serr)
		return Summary{Text: SummaryFailed}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = SummaryUnavailable
	}
	return Summary{Text: text}
}
