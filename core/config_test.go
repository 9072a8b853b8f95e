package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("GEMINI_API_KEY", "test-gemini-key")
	t.Setenv("NATURELENS_DATA_DIR", dataDir)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Provider != ProviderGemini {
		t.Errorf("Provider = %q, want gemini", cfg.Provider)
	}
	if cfg.ClassifyModel != DefaultClassifyModel {
		t.Errorf("ClassifyModel = %q, want %q", cfg.ClassifyModel, DefaultClassifyModel)
	}
	if cfg.StoreBackend != StoreSQLite {
		t.Errorf("StoreBackend = %q, want sqlite", cfg.StoreBackend)
	}
	if cfg.DBPath != filepath.Join(dataDir, "naturelens.db") {
		t.Errorf("DBPath = %q, want under data dir", cfg.DBPath)
	}
	if cfg.AITimeout != 120*time.Second {
		t.Errorf("AITimeout = %v, want 2m", cfg.AITimeout)
	}
	if cfg.RejectUnknownSpecies {
		t.Error("RejectUnknownSpecies should default to false")
	}
}

func TestLoadConfig_GoogleAPIKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "legacy-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.GeminiAPIKey != "legacy-key" {
		t.Errorf("GeminiAPIKey = %q, want legacy-key", cfg.GeminiAPIKey)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantCode string
	}{
		{
			name:     "gemini without key",
			env:      map[string]string{"GEMINI_API_KEY": "", "GOOGLE_API_KEY": ""},
			wantCode: ErrCodeMissingAuth,
		},
		{
			name:     "openai without key",
			env:      map[string]string{"NATURELENS_PROVIDER": "openai", "OPENAI_API_KEY": ""},
			wantCode: ErrCodeMissingAuth,
		},
		{
			name:     "unknown provider",
			env:      map[string]string{"NATURELENS_PROVIDER": "anthropic"},
			wantCode: ErrCodeInvalidValue,
		},
		{
			name:     "unknown store",
			env:      map[string]string{"GEMINI_API_KEY": "k", "NATURELENS_STORE": "redis"},
			wantCode: ErrCodeInvalidValue,
		},
		{
			name:     "zero upload limit",
			env:      map[string]string{"GEMINI_API_KEY": "k", "NATURELENS_MAX_UPLOAD_BYTES": "0"},
			wantCode: ErrCodeInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if code := GetErrorCode(err); code != tt.wantCode {
				t.Errorf("error code = %q, want %q (%v)", code, tt.wantCode, err)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_TIMEOUT", "45")
	if got := ParseDurationEnv("TEST_TIMEOUT", 10); got != 45*time.Second {
		t.Errorf("seconds form = %v, want 45s", got)
	}

	t.Setenv("TEST_TIMEOUT", "2m")
	if got := ParseDurationEnv("TEST_TIMEOUT", 10); got != 2*time.Minute {
		t.Errorf("duration form = %v, want 2m", got)
	}

	t.Setenv("TEST_TIMEOUT", "soon")
	if got := ParseDurationEnv("TEST_TIMEOUT", 10); got != 10*time.Second {
		t.Errorf("invalid = %v, want default 10s", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"YES", true},
		{"1", true},
		{"off", false},
		{"maybe", true}, // falls back to default
	}

	for _, tt := range tests {
		t.Setenv("TEST_BOOL", tt.value)
		if got := ParseBoolEnv("TEST_BOOL", true); got != tt.want {
			t.Errorf("ParseBoolEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestIsConfigError_Wrapped(t *testing.T) {
	err := fmt.Errorf("startup: %w", ErrDataDirectory("/readonly", errors.New("permission denied")))

	configErr, ok := IsConfigError(err)
	if !ok {
		t.Fatal("IsConfigError() did not unwrap")
	}
	if configErr.Code != ErrCodeDataDirectory {
		t.Errorf("Code = %q, want %q", configErr.Code, ErrCodeDataDirectory)
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("GetErrorCode() on plain error should be empty")
	}
}

func TestEnsureDataDirectory(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{
		DataDir:      filepath.Join(root, "data"),
		DownloadsDir: filepath.Join(root, "data", "tmp"),
		DBPath:       filepath.Join(root, "db", "naturelens.db"),
	}

	if err := EnsureDataDirectory(cfg); err != nil {
		t.Fatalf("EnsureDataDirectory() error = %v", err)
	}
}

func TestGetHTTPClient_SelfSigned(t *testing.T) {
	client := GetHTTPClient(&Config{AllowSelfSignedCerts: true}, 5*time.Second)
	if client.Transport == nil {
		t.Error("expected custom transport for self-signed certs")
	}
	if GetHTTPClient(&Config{}, time.Second).Transport != nil {
		t.Error("expected default transport")
	}
}

func TestSetDataDir_RebasesDerivedPaths(t *testing.T) {
	cfg := &Config{
		DataDir:      "/var/lib/naturelens",
		DBPath:       "/var/lib/naturelens/naturelens.db",
		DownloadsDir: "/var/lib/naturelens/tmp",
		LogFile:      "/var/log/naturelens.log",
	}

	cfg.SetDataDir("/tmp/nl")

	if cfg.DataDir != "/tmp/nl" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.DBPath != filepath.Join("/tmp/nl", "naturelens.db") {
		t.Errorf("DBPath = %q, want rebased", cfg.DBPath)
	}
	if cfg.DownloadsDir != filepath.Join("/tmp/nl", "tmp") {
		t.Errorf("DownloadsDir = %q, want rebased", cfg.DownloadsDir)
	}
	if cfg.LogFile != "/var/log/naturelens.log" {
		t.Errorf("LogFile = %q, want unchanged", cfg.LogFile)
	}
}
