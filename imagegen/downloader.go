package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"naturelens/core"
)

// DefaultMaxDownloadBytes caps a single image download.
const DefaultMaxDownloadBytes = 32 * 1024 * 1024

// Downloader fetches images that providers return as temporary URLs and
// stages image files for APIs that only accept file uploads.
//
// Thread Safety: Downloader is safe for concurrent use.
type Downloader struct {
	client       *http.Client
	downloadsDir string
	maxBytes     int64
}

// DownloaderConfig holds configuration for the Downloader.
type DownloaderConfig struct {
	// HTTPClient is the HTTP client for downloads (optional)
	HTTPClient *http.Client

	// DownloadsDir holds temporary image files. Default: os.TempDir()
	DownloadsDir string

	// MaxBytes caps a download. Default: DefaultMaxDownloadBytes
	MaxBytes int64

	// Timeout is used when HTTPClient is nil. Default: 60 seconds
	Timeout time.Duration
}

// NewDownloader creates a downloader from the application config.
func NewDownloader(cfg *core.Config) (*Downloader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}
	return NewDownloaderWithConfig(DownloaderConfig{
		HTTPClient:   core.GetHTTPClient(cfg, cfg.AITimeout),
		DownloadsDir: cfg.DownloadsDir,
	})
}

// NewDownloaderWithConfig creates a downloader with explicit configuration.
func NewDownloaderWithConfig(cfg DownloaderConfig) (*Downloader, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	downloadsDir := cfg.DownloadsDir
	if downloadsDir == "" {
		downloadsDir = os.TempDir()
	}
	if err := os.MkdirAll(downloadsDir, 0755); err != nil {
		return nil, fmt.Errorf("imagegen: failed to create downloads directory: %w", err)
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}

	return &Downloader{
		client:       httpClient,
		downloadsDir: downloadsDir,
		maxBytes:     maxBytes,
	}, nil
}

// DownloadBytes fetches url into memory and returns the bytes with their mime type.
func (d *Downloader) DownloadBytes(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("imagegen: URL cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to create download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("imagegen: download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to read image data: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("imagegen: image exceeds %d bytes", d.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", ErrNoImageData
	}

	return data, normalizeMIME(resp.Header.Get("Content-Type"), data), nil
}

// StageFile writes data to a new temp file in the downloads directory.
// The caller must close and remove the file.
func (d *Downloader) StageFile(data []byte, mimeType string) (*os.File, error) {
	ext := extensionFromContentType(mimeType)
	if ext == "" {
		ext = ".png"
	}

	f, err := os.CreateTemp(d.downloadsDir, "naturelens-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("imagegen: failed to create image file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("imagegen: failed to write image data: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("imagegen: failed to rewind image file: %w", err)
	}
	return f, nil
}

// DownloadsDir returns the configured downloads directory.
func (d *Downloader) DownloadsDir() string {
	return d.downloadsDir
}

// mediaType strips parameters and lowercases a Content-Type.
func mediaType(contentType string) string {
	lower := strings.ToLower(contentType)
	if idx := strings.Index(lower, ";"); idx != -1 {
		lower = lower[:idx]
	}
	return strings.TrimSpace(lower)
}

// extensionFromContentType returns the file extension for a given Content-Type.
func extensionFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}

	switch lower := mediaType(contentType); lower {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		if strings.HasPrefix(lower, "image/") {
			return ".png"
		}
		return ""
	}
}
