package core

import (
	"crypto/tls"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Provider selects which model vendor backs classification, captions and images.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// StoreBackend selects where the collection blob is persisted.
type StoreBackend string

const (
	StoreSQLite StoreBackend = "sqlite"
	StoreFile   StoreBackend = "file"
	StoreMemory StoreBackend = "memory"
)

// Default model names, matching what the hosted app shipped with.
const (
	DefaultClassifyModel = "gemini-3-pro-preview"
	DefaultCaptionModel  = "gemini-2.5-flash-lite-latest"
	DefaultSummaryModel  = "gemini-2.5-flash"
	DefaultImageModel    = "gemini-3-pro-image-preview"
	DefaultEditModel     = "gemini-2.5-flash-image"

	DefaultOpenAIVisionModel = "gpt-4o"
	DefaultOpenAITextModel   = "gpt-4o-mini"
	DefaultOpenAIImageModel  = "dall-e-3"
	DefaultOpenAIEditModel   = "dall-e-2"
)

// Config holds all configuration values
type Config struct {
	// API keys
	GeminiAPIKey string
	OpenAIAPIKey string

	// Base URL overrides, for proxies and compatible endpoints
	GeminiBaseURL string
	OpenAIBaseURL string

	Provider Provider

	// Gemini model selection
	ClassifyModel string
	CaptionModel  string
	SummaryModel  string
	ImageModel    string
	EditModel     string

	// OpenAI model selection
	OpenAIVisionModel string
	OpenAITextModel   string
	OpenAIImageModel  string
	OpenAIEditModel   string

	AITimeout time.Duration

	// Storage
	StoreBackend StoreBackend
	DataDir      string
	DBPath       string
	DownloadsDir string
	LogFile      string

	// Ingest limits
	MaxUploadBytes    int64
	MaxImageDimension int

	SummaryCacheTTL      time.Duration
	RejectUnknownSpecies bool
	AllowSelfSignedCerts bool
	Development          bool
}

// LoadConfig reads configuration from the environment and validates it.
// main loads .env through godotenv before calling this.
func LoadConfig() (*Config, error) {
	cfg := LoadConfigUnchecked()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigUnchecked reads configuration without validating API keys.
// Read-only CLI commands (albums, recent, export) use it so they work offline.
func LoadConfigUnchecked() *Config {
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		geminiKey = os.Getenv("GOOGLE_API_KEY")
	}

	dataDir := GetEnvOrDefault("NATURELENS_DATA_DIR", GetDataDirectory())

	return &Config{
		GeminiAPIKey:  geminiKey,
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		GeminiBaseURL: os.Getenv("GEMINI_BASE_URL"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		Provider:      Provider(strings.ToLower(GetEnvOrDefault("NATURELENS_PROVIDER", string(ProviderGemini)))),

		ClassifyModel: GetEnvOrDefault("CLASSIFY_MODEL", DefaultClassifyModel),
		CaptionModel:  GetEnvOrDefault("CAPTION_MODEL", DefaultCaptionModel),
		SummaryModel:  GetEnvOrDefault("SUMMARY_MODEL", DefaultSummaryModel),
		ImageModel:    GetEnvOrDefault("IMAGE_MODEL", DefaultImageModel),
		EditModel:     GetEnvOrDefault("EDIT_MODEL", DefaultEditModel),

		OpenAIVisionModel: GetEnvOrDefault("OPENAI_VISION_MODEL", DefaultOpenAIVisionModel),
		OpenAITextModel:   GetEnvOrDefault("OPENAI_TEXT_MODEL", DefaultOpenAITextModel),
		OpenAIImageModel:  GetEnvOrDefault("OPENAI_IMAGE_MODEL", DefaultOpenAIImageModel),
		OpenAIEditModel:   GetEnvOrDefault("OPENAI_EDIT_MODEL", DefaultOpenAIEditModel),

		// image generation at 4K can take well over a minute
		AITimeout: ParseDurationEnv("AI_TIMEOUT", 120),

		StoreBackend: StoreBackend(strings.ToLower(GetEnvOrDefault("NATURELENS_STORE", string(StoreSQLite)))),
		DataDir:      dataDir,
		DBPath:       GetEnvOrDefault("NATURELENS_DB_PATH", filepath.Join(dataDir, "naturelens.db")),
		DownloadsDir: GetEnvOrDefault("NATURELENS_DOWNLOADS_DIR", filepath.Join(dataDir, "tmp")),
		LogFile:      GetEnvOrDefault("NATURELENS_LOG_FILE", filepath.Join(dataDir, "naturelens.log")),

		MaxUploadBytes:    ParseInt64Env("NATURELENS_MAX_UPLOAD_BYTES", 20*1024*1024),
		MaxImageDimension: ParseIntEnv("NATURELENS_MAX_IMAGE_DIMENSION", 2048),

		SummaryCacheTTL:      ParseDurationEnv("SUMMARY_CACHE_TTL", 24*60*60),
		RejectUnknownSpecies: ParseBoolEnv("NATURELENS_REJECT_UNKNOWN", false),
		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),
		Development:          ParseBoolEnv("NATURELENS_DEV", false),
	}
}

// Validate checks that the selected provider has credentials and that
// enum-valued settings are known. It returns a *ConfigError.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return ErrMissingAuth("gemini")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return ErrMissingAuth("openai")
		}
	default:
		return ErrInvalidValue("NATURELENS_PROVIDER", string(c.Provider), "gemini, openai")
	}

	if err := c.ValidateStorage(); err != nil {
		return err
	}

	if c.AITimeout <= 0 {
		return ErrInvalidValue("AI_TIMEOUT", c.AITimeout.String(), "a positive number of seconds")
	}
	return nil
}

// ValidateStorage checks only the storage-related settings.
func (c *Config) ValidateStorage() error {
	switch c.StoreBackend {
	case StoreSQLite, StoreFile, StoreMemory:
	default:
		return ErrInvalidValue("NATURELENS_STORE", string(c.StoreBackend), "sqlite, file, memory")
	}
	if c.MaxUploadBytes <= 0 {
		return ErrInvalidValue("NATURELENS_MAX_UPLOAD_BYTES", "non-positive", "a positive byte count")
	}
	return nil
}

// SetDataDir moves DataDir to dir. Paths that were derived from the old
// data directory move with it; paths set explicitly elsewhere stay.
func (c *Config) SetDataDir(dir string) {
	old := c.DataDir
	rebase := func(path string) string {
		if old == "" {
			return path
		}
		rel, err := filepath.Rel(old, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return path
		}
		return filepath.Join(dir, rel)
	}
	c.DBPath = rebase(c.DBPath)
	c.DownloadsDir = rebase(c.DownloadsDir)
	c.LogFile = rebase(c.LogFile)
	c.DataDir = dir
}

// HasGemini reports whether a Gemini key is configured, regardless of provider.
// Grounded summaries prefer Gemini whenever it is available.
func (c *Config) HasGemini() bool {
	return c.GeminiAPIKey != ""
}

// GetHTTPClient returns an HTTP client honoring AllowSelfSignedCerts.
// Used by every outbound model client.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}

	if cfg != nil && cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}
