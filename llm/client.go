// Package llm builds the Gemini and OpenAI clients shared by the
// classification, caption, summary and image packages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"naturelens/core"
)

// ErrMissingAPIKey is returned when a client is requested without a key.
var ErrMissingAPIKey = errors.New("llm: missing API key")

// ClientConfig holds what is needed to build either vendor's client.
type ClientConfig struct {
	APIKey string

	// BaseURL overrides the vendor endpoint. Tests point it at httptest servers.
	BaseURL string

	// HTTPClient carries TLS settings and the request timeout
	HTTPClient *http.Client
}

// GeminiConfig derives the Gemini client settings from cfg.
func GeminiConfig(cfg *core.Config) ClientConfig {
	return ClientConfig{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		HTTPClient: core.GetHTTPClient(cfg, cfg.AITimeout),
	}
}

// OpenAIConfig derives the OpenAI client settings from cfg.
func OpenAIConfig(cfg *core.Config) ClientConfig {
	return ClientConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		HTTPClient: core.GetHTTPClient(cfg, cfg.AITimeout),
	}
}

// NewGeminiClient creates a genai client against the Gemini API backend.
func NewGeminiClient(ctx context.Context, cfg ClientConfig) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimSuffix(cfg.BaseURL, "/") + "/"}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return client, nil
}

// NewOpenAIClient creates an OpenAI-compatible client.
func NewOpenAIClient(cfg ClientConfig) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	return openai.NewClientWithConfig(clientConfig), nil
}
