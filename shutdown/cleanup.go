package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"naturelens/logging"
)

// StagedFilePattern matches the temp files the image downloader stages
// for upload.
const StagedFilePattern = "naturelens-*"

// RemoveStagedFiles returns a hook that deletes leftover staged files in dir.
// Removal failures are logged, never returned.
func RemoveStagedFiles(logger *logging.Logger, dir string) Func {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(ctx context.Context) error {
		matches, err := filepath.Glob(filepath.Join(dir, StagedFilePattern))
		if err != nil || len(matches) == 0 {
			return nil
		}

		removed := 0
		for _, path := range matches {
			if ctx.Err() != nil {
				logger.Warn("staged file cleanup interrupted", zap.Int("remaining", len(matches)-removed))
				return nil
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to remove staged file", zap.String("file", filepath.Base(path)), zap.Error(err))
				continue
			}
			removed++
		}
		logger.Debug("staged files removed", zap.Int("count", removed))
		return nil
	}
}
