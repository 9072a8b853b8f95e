package classify

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"naturelens/collection"
	"naturelens/logging"
	"naturelens/llm"
)

// responseSchema constrains Gemini to the AnalysisResult shape.
var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"species":        {Type: genai.TypeString, Description: "Common name of the animal or bird."},
		"scientificName": {Type: genai.TypeString, Description: "Scientific Latin name."},
		"confidence":     {Type: genai.TypeNumber, Description: "Confidence score between 0 and 1."},
		"description":    {Type: genai.TypeString, Description: "A brief visual description of the animal in the image."},
		"habitat":        {Type: genai.TypeString, Description: "Typical habitat for this species."},
		"category":       {Type: genai.TypeString, Description: "Broad group such as Bird, Mammal, Reptile or Insect."},
	},
	Required: []string{"species", "scientificName", "confidence", "description", "habitat"},
}

// GeminiClassifier classifies images with a Gemini vision model using a
// JSON response schema.
type GeminiClassifier struct {
	client *genai.Client
	model  string
	logger *logging.Logger
}

// NewGeminiClassifier creates a classifier over an existing genai client.
func NewGeminiClassifier(client *genai.Client, model string, logger *logging.Logger) *GeminiClassifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GeminiClassifier{
		client: client,
		model:  model,
		logger: logger.Named("classify"),
	}
}

// Classify sends the image inline with the fixed prompt. One attempt, no retry.
func (c *GeminiClassifier) Classify(ctx context.Context, data []byte, mimeType string) (collection.AnalysisResult, error) {
	if len(data) == 0 {
		return collection.AnalysisResult{}, &ClassificationError{Op: "request", Err: ErrEmptyImage}
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(Prompt),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema,
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		c.logger.Warn("classification request failed",
			zap.String("model", c.model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return collection.AnalysisResult{}, &ClassificationError{Op: "request", Err: err}
	}

	result, err := ParseResult(llm.ResponseText(resp))
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
