package db

import (
	"context"
	"fmt"
	"time"
)

// PruneHistory deletes ingest_history rows older than retention and returns
// how many were removed. The collection blob is never touched.
func (d *Database) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		return 0, fmt.Errorf("retention must be non-negative, got %v", retention)
	}

	cutoff := time.Now().Add(-retention).UnixMilli()
	result, err := d.ExecContext(ctx, `DELETE FROM ingest_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune ingest history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	return n, nil
}

// Vacuum reclaims space after large prunes.
func (d *Database) Vacuum(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
