package core

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is used in data directory paths.
const AppName = "NatureLens"

// GetDataDirectory returns the platform-specific data directory.
//
//   - Windows: %APPDATA%\NatureLens
//   - Linux/macOS: ~/.naturelens
//
// It does not create the directory; see EnsureDataDirectory.
func GetDataDirectory() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppName)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".naturelens"
	}
	return filepath.Join(home, ".naturelens")
}

// EnsureDataDirectory creates dir (and the downloads directory under the
// config) with owner-only permissions.
func EnsureDataDirectory(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.DownloadsDir, filepath.Dir(cfg.DBPath)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return ErrDataDirectory(dir, err)
		}
	}
	return nil
}
