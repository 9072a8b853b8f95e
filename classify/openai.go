package classify

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"naturelens/collection"
	"naturelens/logging"
	"naturelens/vision"
)

// openAIFormat spells out the JSON shape, since JSON mode has no schema.
const openAIFormat = `Respond with a single JSON object with the keys "species" (common name), ` +
	`"scientificName" (Latin name), "confidence" (number between 0 and 1), "description" ` +
	`(brief visual description of the animal in the image), "habitat" (typical habitat) and ` +
	`"category" (broad group such as Bird or Mammal).`

// OpenAIClassifier classifies images with an OpenAI-compatible vision chat model.
type OpenAIClassifier struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *logging.Logger
}

// NewOpenAIClassifier creates a classifier over an existing OpenAI client.
func NewOpenAIClassifier(client *openai.Client, model string, logger *logging.Logger) *OpenAIClassifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &OpenAIClassifier{
		client:    client,
		model:     model,
		maxTokens: 600,
		logger:    logger.Named("classify"),
	}
}

// Classify sends the image as a data URI in a vision chat request with JSON mode on.
func (c *OpenAIClassifier) Classify(ctx context.Context, data []byte, mimeType string) (collection.AnalysisResult, error) {
	if len(data) == 0 {
		return collection.AnalysisResult{}, &ClassificationError{Op: "request", Err: ErrEmptyImage}
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: SystemInstruction + " " + openAIFormat,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: Prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    vision.EncodeDataURI(mimeType, data),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens: c.maxTokens,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("classification request failed",
			zap.String("model", c.model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return collection.AnalysisResult{}, &ClassificationError{Op: "request", Err: err}
	}
	if len(resp.Choices) == 0 {
		return collection.AnalysisResult{}, &ClassificationError{Op: "parse", Err: fmt.Errorf("%w: no choices", ErrEmptyResponse)}
	}

	result, err := ParseResult(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("classification output rejected", zap.String("model", c.model), zap.Error(err))
		return collection.AnalysisResult{}, err
	}

	c.logger.Debug("image classified",
		zap.String("model", c.model),
		zap.String("species", result.Species),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}
