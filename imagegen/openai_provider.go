package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"naturelens/logging"
	"naturelens/vision"
)

// OpenAIProvider generates images with DALL-E and edits them through the
// images/edits endpoint.
//
// Thread Safety: OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	editModel  string
	downloader *Downloader
	logger     *logging.Logger
}

// NewOpenAIProvider creates a provider. The downloader resolves URL responses
// and stages edit sources, since the edits endpoint only takes file uploads.
func NewOpenAIProvider(client *openai.Client, model, editModel string, downloader *Downloader, logger *logging.Logger) (*OpenAIProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("imagegen: OpenAI client cannot be nil")
	}
	if downloader == nil {
		return nil, fmt.Errorf("imagegen: downloader cannot be nil")
	}
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	if editModel == "" {
		editModel = openai.CreateImageModelDallE2
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &OpenAIProvider{
		client:     client,
		model:      model,
		editModel:  editModel,
		downloader: downloader,
		logger:     logger.Named("imagegen"),
	}, nil
}

// Name identifies the backend in logs and metrics.
func (p *OpenAIProvider) Name() string { return "openai" }

// Generate maps the aspect ratio onto the nearest DALL-E size and asks for
// base64 output. 2K and 4K use hd quality.
func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (Image, error) {
	req, err := req.validate()
	if err != nil {
		return Image{}, err
	}

	imgReq := openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          p.model,
		Size:           openAISize(req.AspectRatio),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	}
	// style and quality are dall-e-3 only
	if p.model == openai.CreateImageModelDallE3 {
		imgReq.Style = openai.CreateImageStyleNatural
		if req.Size != Size1K {
			imgReq.Quality = openai.CreateImageQualityHD
		}
	}

	start := time.Now()
	resp, err := p.client.CreateImage(ctx, imgReq)
	if err != nil {
		p.logger.Warn("image generation failed", zap.String("model", p.model), zap.Error(err))
		return Image{}, &GenerationError{Op: "request", Err: err}
	}

	img, err := p.decode(ctx, resp)
	if err != nil {
		return Image{}, &GenerationError{Op: "response", Err: err}
	}

	p.logger.Info("image generated",
		zap.String("model", p.model),
		zap.String("size", imgReq.Size),
		zap.Int("bytes", len(img.Data)),
		zap.Duration("duration", time.Since(start)))
	return img, nil
}

// Edit converts the source to PNG, stages it as a file, and sends it with
// the instruction as the prompt.
func (p *OpenAIProvider) Edit(ctx context.Context, req EditRequest) (Image, error) {
	if err := req.validate(); err != nil {
		return Image{}, err
	}

	pngData, err := toPNG(req.Image)
	if err != nil {
		return Image{}, &EditError{Op: "prepare", Err: err}
	}
	file, err := p.downloader.StageFile(pngData, "image/png")
	if err != nil {
		return Image{}, &EditError{Op: "prepare", Err: err}
	}
	defer func() {
		file.Close()
		os.Remove(file.Name())
	}()

	start := time.Now()
	resp, err := p.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          file,
		Prompt:         req.Instruction,
		Model:          p.editModel,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		p.logger.Warn("image edit failed", zap.String("model", p.editModel), zap.Error(err))
		return Image{}, &EditError{Op: "request", Err: err}
	}

	img, err := p.decode(ctx, resp)
	if err != nil {
		return Image{}, &EditError{Op: "response", Err: err}
	}

	p.logger.Info("image edited",
		zap.String("model", p.editModel),
		zap.Int("bytes", len(img.Data)),
		zap.Duration("duration", time.Since(start)))
	return img, nil
}

// decode reads the first result, downloading it when the API answered with a URL.
func (p *OpenAIProvider) decode(ctx context.Context, resp openai.ImageResponse) (Image, error) {
	if len(resp.Data) == 0 {
		return Image{}, ErrNoImageData
	}
	item := resp.Data[0]

	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return Image{}, fmt.Errorf("decode b64_json: %w", err)
		}
		if len(data) == 0 {
			return Image{}, ErrNoImageData
		}
		return Image{Data: data, MIMEType: normalizeMIME("", data)}, nil
	}

	if item.URL != "" {
		data, mime, err := p.downloader.DownloadBytes(ctx, item.URL)
		if err != nil {
			return Image{}, err
		}
		return Image{Data: data, MIMEType: mime}, nil
	}

	return Image{}, ErrNoImageData
}

// openAISize picks the DALL-E size closest to the aspect ratio.
func openAISize(r AspectRatio) string {
	switch r.Orientation() {
	case 1:
		return openai.CreateImageSize1792x1024
	case -1:
		return openai.CreateImageSize1024x1792
	default:
		return openai.CreateImageSize1024x1024
	}
}

// toPNG re-encodes any supported image as PNG. PNG input is passed through.
func toPNG(data []byte) ([]byte, error) {
	info, err := vision.Inspect(data)
	if err != nil {
		return nil, err
	}
	if info.Format == "png" {
		return data, nil
	}

	img, err := vision.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var _ Provider = (*OpenAIProvider)(nil)
