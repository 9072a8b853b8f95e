package validation

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"naturelens/core"
)

// MinFreeBytes is the free space below which the disk check warns.
const MinFreeBytes = 256 << 20

// ConfigCheck validates cfg. With offline set, missing API keys are
// tolerated and only storage settings are checked.
func ConfigCheck(cfg *core.Config, offline bool) Check {
	return Check{
		Name: "Configuration",
		Run: func(ctx context.Context) (string, error) {
			if offline {
				if err := cfg.ValidateStorage(); err != nil {
					return "", err
				}
				return fmt.Sprintf("store=%s (offline)", cfg.StoreBackend), nil
			}
			if err := cfg.Validate(); err != nil {
				return "", err
			}
			return fmt.Sprintf("provider=%s store=%s", cfg.Provider, cfg.StoreBackend), nil
		},
	}
}

// WritableDirCheck creates dir if needed and proves a file can be written there.
func WritableDirCheck(name, dir string) Check {
	return Check{
		Name: name,
		Run: func(ctx context.Context) (string, error) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", err
			}
			f, err := os.CreateTemp(dir, ".naturelens-probe-*")
			if err != nil {
				return "", fmt.Errorf("directory not writable: %w", err)
			}
			f.Close()
			os.Remove(f.Name())
			return dir, nil
		},
	}
}

// DiskSpaceCheck warns when the filesystem holding path is low on space.
func DiskSpaceCheck(path string, minFree uint64) Check {
	return Check{
		Name: "Disk Space",
		Run: func(ctx context.Context) (string, error) {
			space, err := CheckDiskSpace(path, minFree)
			if err != nil {
				return space.String(), fmt.Errorf("%w: %w", ErrWarning, err)
			}
			return space.String(), nil
		},
	}
}

// EndpointCheck issues a GET to url and passes on any HTTP response, since
// model APIs answer unauthenticated probes with 4xx.
func EndpointCheck(name, url string, client *http.Client) Check {
	return Check{
		Name:     name,
		Requires: "Configuration",
		Run: func(ctx context.Context) (string, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", err
			}
			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("unreachable: %w", err)
			}
			resp.Body.Close()
			if resp.StatusCode >= 500 {
				return "", fmt.Errorf("server error: %s", resp.Status)
			}
			return fmt.Sprintf("%s (latency %v)", url, time.Since(start).Round(time.Millisecond)), nil
		},
	}
}

// DefaultEndpoint returns the probe URL for the configured provider.
func DefaultEndpoint(cfg *core.Config) (name, url string) {
	switch cfg.Provider {
	case core.ProviderOpenAI:
		base := cfg.OpenAIBaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return "OpenAI API", base + "/models"
	default:
		base := cfg.GeminiBaseURL
		if base == "" {
			base = "https://generativelanguage.googleapis.com"
		}
		return "Gemini API", base
	}
}
