package db

import (
	"context"
	"fmt"
	"time"
)

// Ingest statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// IngestRecord is one row of ingest_history: a single ingest attempt,
// successful or not.
type IngestRecord struct {
	ID            int64
	CorrelationID string
	PhotoID       string // empty when the ingest failed
	Source        string // upload, generated or edited
	SpeciesKey    string
	Species       string
	Confidence    float64
	ModelName     string
	DurationMS    int64
	Status        string
	ErrorMessage  string
	CreatedAt     time.Time
}

// HistoryRepository reads and writes ingest_history. With an AsyncWriter
// attached, inserts are queued and fall back to a direct write when the
// queue is full.
type HistoryRepository struct {
	db          *Database
	asyncWriter *AsyncWriter
}

// NewHistoryRepository creates a repository. asyncWriter may be nil.
func NewHistoryRepository(db *Database, asyncWriter *AsyncWriter) *HistoryRepository {
	return &HistoryRepository{db: db, asyncWriter: asyncWriter}
}

const insertIngestQuery = `
	INSERT INTO ingest_history (
		correlation_id, photo_id, source, species_key, species,
		confidence, model_name, duration_ms, status, error_message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Insert records rec. It returns the row id, or 0 when the write was queued.
func (r *HistoryRepository) Insert(ctx context.Context, rec IngestRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	args := []interface{}{
		rec.CorrelationID,
		nullString(rec.PhotoID),
		rec.Source,
		nullString(rec.SpeciesKey),
		nullString(rec.Species),
		rec.Confidence,
		nullString(rec.ModelName),
		rec.DurationMS,
		rec.Status,
		nullString(rec.ErrorMessage),
		rec.CreatedAt.UnixMilli(),
	}

	if r.asyncWriter != nil && r.asyncWriter.Write(args) {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx, insertIngestQuery, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ingest history: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

// AsyncWriteHandler returns the handler an AsyncWriter needs to perform
// queued inserts for this repository.
func (r *HistoryRepository) AsyncWriteHandler() WriteHandler {
	return func(ctx context.Context, op WriteOperation) error {
		args, ok := op.Data.([]interface{})
		if !ok {
			return fmt.Errorf("invalid operation type %T", op.Data)
		}
		_, err := r.db.ExecContext(ctx, insertIngestQuery, args...)
		return err
	}
}

const selectIngestColumns = `
	SELECT id, correlation_id, COALESCE(photo_id, ''), source,
		   COALESCE(species_key, ''), COALESCE(species, ''), COALESCE(confidence, 0),
		   COALESCE(model_name, ''), COALESCE(duration_ms, 0), status,
		   COALESCE(error_message, ''), created_at
	FROM ingest_history`

// Recent returns the newest limit records, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]IngestRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.query(ctx, selectIngestColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// ByCorrelationID returns every record for one ingest attempt.
func (r *HistoryRepository) ByCorrelationID(ctx context.Context, correlationID string) ([]IngestRecord, error) {
	return r.query(ctx, selectIngestColumns+` WHERE correlation_id = ? ORDER BY id DESC`, correlationID)
}

// BySpecies returns the records filed under speciesKey, newest first.
func (r *HistoryRepository) BySpecies(ctx context.Context, speciesKey string, limit int) ([]IngestRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.query(ctx, selectIngestColumns+` WHERE species_key = ? ORDER BY created_at DESC, id DESC LIMIT ?`, speciesKey, limit)
}

// CountByStatus returns the number of records per status.
func (r *HistoryRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM ingest_history GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count ingest history: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan ingest count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *HistoryRepository) query(ctx context.Context, query string, args ...interface{}) ([]IngestRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingest history: %w", err)
	}
	defer rows.Close()

	var records []IngestRecord
	for rows.Next() {
		var rec IngestRecord
		var createdAt int64
		if err := rows.Scan(
			&rec.ID,
			&rec.CorrelationID,
			&rec.PhotoID,
			&rec.Source,
			&rec.SpeciesKey,
			&rec.Species,
			&rec.Confidence,
			&rec.ModelName,
			&rec.DurationMS,
			&rec.Status,
			&rec.ErrorMessage,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ingest history row: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ingest history rows: %w", err)
	}
	return records, nil
}

// nullString stores empty strings as NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
