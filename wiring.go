package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"

	"naturelens/classify"
	"naturelens/core"
	"naturelens/enrich"
	"naturelens/imagegen"
	"naturelens/llm"
	"naturelens/logging"
	"naturelens/metrics"
	"naturelens/pipeline"
)

// openAICaptionTokens bounds caption completions on the OpenAI path.
const openAICaptionTokens = 120

// services are the model-backed collaborators of the pipeline.
type services struct {
	classifier classify.Classifier
	captioner  *enrich.Captioner
	summarizer enrich.Summarizer
	images     imagegen.Provider
	modelName  string
}

// newServices builds clients for cfg.Provider. Grounded summaries use Gemini
// search whenever a Gemini key is present, since OpenAI chat has no search
// tool; otherwise they fall back to an ungrounded text summary.
func newServices(ctx context.Context, cfg *core.Config, m *metrics.Metrics, logger *logging.Logger) (*services, error) {
	captionHook := enrich.WithFailureHook(func(error) { m.IncFallback(metrics.FallbackCaption) })
	summaryHook := enrich.WithFailureHook(func(error) { m.IncFallback(metrics.FallbackSummary) })

	svc := &services{}
	var summarizer enrich.Summarizer

	if cfg.HasGemini() {
		gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig(cfg))
		if err != nil {
			return nil, err
		}
		summarizer = enrich.NewGeminiSummarizer(gemini, cfg.SummaryModel, logger, summaryHook)

		if cfg.Provider == core.ProviderGemini {
			svc.classifier = classify.NewGeminiClassifier(gemini, cfg.ClassifyModel, logger)
			svc.captioner = enrich.NewCaptioner(enrich.NewGeminiText(gemini, cfg.CaptionModel), logger, captionHook)
			svc.images = imagegen.NewGeminiProvider(gemini, cfg.ImageModel, cfg.EditModel, logger)
			svc.modelName = cfg.ClassifyModel
		}
	}

	if cfg.Provider == core.ProviderOpenAI {
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig(cfg))
		if err != nil {
			return nil, err
		}
		downloader, err := imagegen.NewDownloader(cfg)
		if err != nil {
			return nil, err
		}
		images, err := imagegen.NewOpenAIProvider(client, cfg.OpenAIImageModel, cfg.OpenAIEditModel, downloader, logger)
		if err != nil {
			return nil, err
		}
		text := enrich.NewOpenAIText(client, cfg.OpenAITextModel, openAICaptionTokens)

		svc.classifier = classify.NewOpenAIClassifier(client, cfg.OpenAIVisionModel, logger)
		svc.captioner = enrich.NewCaptioner(text, logger, captionHook)
		svc.images = images
		svc.modelName = cfg.OpenAIVisionModel
		if summarizer == nil {
			summarizer = enrich.NewTextSummarizer(text, logger, summaryHook)
		}
	}

	if svc.classifier == nil {
		return nil, fmt.Errorf("no client for provider %q", cfg.Provider)
	}
	cached := enrich.NewCachedSummarizer(summarizer, cfg.SummaryCacheTTL)
	m.WatchSummaryCache(cached.Stats)
	svc.summarizer = cached
	return svc, nil
}

// progressPrinter writes pipeline state changes as they happen.
func progressPrinter(w io.Writer) pipeline.ProgressFunc {
	dim := color.New(color.FgHiBlack)
	return func(correlationID string, state pipeline.State) {
		switch state {
		case pipeline.StateIdle:
			return
		case pipeline.StateFailed:
			color.New(color.FgRed).Fprintf(w, "  %s ", state)
		case pipeline.StateDone:
			color.New(color.FgGreen).Fprintf(w, "  %s ", state)
		default:
			fmt.Fprintf(w, "  %s... ", state)
		}
		dim.Fprintf(w, "[%s]\n", shortID(correlationID))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
