package imagegen

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"naturelens/llm"
	"naturelens/logging"
)

// GeminiProvider generates and edits images with Gemini image models.
// Generation and editing use separate models.
type GeminiProvider struct {
	client     *genai.Client
	imageModel string
	editModel  string
	logger     *logging.Logger
}

// NewGeminiProvider creates a provider over an existing genai client.
func NewGeminiProvider(client *genai.Client, imageModel, editModel string, logger *logging.Logger) *GeminiProvider {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GeminiProvider{
		client:     client,
		imageModel: imageModel,
		editModel:  editModel,
		logger:     logger.Named("imagegen"),
	}
}

// Name identifies the backend in logs and metrics.
func (p *GeminiProvider) Name() string { return "gemini" }

// Generate renders req.Prompt at the requested aspect ratio and size tier.
func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (Image, error) {
	req, err := req.validate()
	if err != nil {
		return Image{}, err
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		ImageConfig: &genai.ImageConfig{
			AspectRatio: string(req.AspectRatio),
			ImageSize:   string(req.Size),
		},
	}

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, p.imageModel, genai.Text(req.Prompt), config)
	if err != nil {
		p.logger.Warn("image generation failed", zap.String("model", p.imageModel), zap.Error(err))
		return Image{}, &GenerationError{Op: "request", Err: err}
	}

	data, mime, err := llm.ResponseImage(resp)
	if err != nil {
		return Image{}, &GenerationError{Op: "response", Err: ErrNoImageData}
	}

	p.logger.Info("image generated",
		zap.String("model", p.imageModel),
		zap.String("aspect_ratio", string(req.AspectRatio)),
		zap.String("size", string(req.Size)),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return Image{Data: data, MIMEType: normalizeMIME(mime, data)}, nil
}

// Edit sends the source image inline followed by the instruction.
func (p *GeminiProvider) Edit(ctx context.Context, req EditRequest) (Image, error) {
	if err := req.validate(); err != nil {
		return Image{}, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Image, normalizeMIME(req.MIMEType, req.Image)),
			genai.NewPartFromText(req.Instruction),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, p.editModel, contents, config)
	if err != nil {
		p.logger.Warn("image edit failed", zap.String("model", p.editModel), zap.Error(err))
		return Image{}, &EditError{Op: "request", Err: err}
	}

	data, mime, err := llm.ResponseImage(resp)
	if err != nil {
		return Image{}, &EditError{Op: "response", Err: ErrNoImageData}
	}

	p.logger.Info("image edited",
		zap.String("model", p.editModel),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return Image{Data: data, MIMEType: normalizeMIME(mime, data)}, nil
}

// normalizeMIME trusts a declared image/* type and sniffs otherwise.
func normalizeMIME(declared string, data []byte) string {
	if extensionFromContentType(declared) != "" {
		return mediaType(declared)
	}
	return http.DetectContentType(data)
}

var _ Provider = (*GeminiProvider)(nil)
