// Package store persists key estimation results to SQLite and tracks
// processed messages in a Pebble ledger so redeliveries are skipped.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"github.com/RyanBlaney/harmonic-analyzer/algorithms/tonal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when no record matches a lookup
var ErrNotFound = errors.New("store: record not found")

// Record is one processed work item
type Record struct {
	MessageID    string
	TrackID      string
	KeyName      string // Full name such as "E minor", or "Unknown"
	Mode         string
	KeyIndex     int // -1 when no key was estimated
	Confidence   float64
	Clarity      float64
	Status       string
	Error        string
	Chroma       []float64
	ChromaDigest uint64
	Estimates    []tonal.Estimate
	ProcessedAt  time.Time
}

// ResultStore keeps one row per processed message in SQLite
type ResultStore struct {
	db *sql.DB
}

// OpenResultStore opens (or creates) the SQLite database at path and ensures schema exists
func OpenResultStore(path string) (*ResultStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: results path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// single writer; the handlers serialize here rather than on SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS key_estimates (
    message_id TEXT PRIMARY KEY,
    track_id TEXT NOT NULL,
    key_name TEXT NOT NULL,
    mode TEXT,
    key_index INTEGER,
    confidence REAL,
    clarity REAL,
    status TEXT NOT NULL,
    error TEXT,
    chroma TEXT,
    chroma_digest INTEGER,
    estimates TEXT,
    processed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_key_estimates_track ON key_estimates(track_id, processed_at);
CREATE INDEX IF NOT EXISTS idx_key_estimates_digest ON key_estimates(chroma_digest);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("store: schema: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts the record, replacing any earlier row for the same message
func (s *ResultStore) Save(ctx context.Context, rec Record) error {
	if rec.MessageID == "" {
		return errors.New("store: record has no message id")
	}

	chromaJSON, err := json.Marshal(rec.Chroma)
	if err != nil {
		return fmt.Errorf("store: encode chroma: %w", err)
	}
	estimatesJSON, err := json.Marshal(rec.Estimates)
	if err != nil {
		return fmt.Errorf("store: encode estimates: %w", err)
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO key_estimates (
    message_id, track_id, key_name, mode, key_index, confidence, clarity,
    status, error, chroma, chroma_digest, estimates, processed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MessageID, rec.TrackID, rec.KeyName, rec.Mode, rec.KeyIndex, rec.Confidence, rec.Clarity,
		rec.Status, rec.Error, string(chromaJSON), int64(rec.ChromaDigest), string(estimatesJSON),
		rec.ProcessedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert %s: %w", rec.MessageID, err)
	}
	return nil
}

const selectColumns = `message_id, track_id, key_name, mode, key_index, confidence, clarity,
    status, error, chroma, chroma_digest, estimates, processed_at`

// Get returns the record for a message id
func (s *ResultStore) Get(ctx context.Context, messageID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM key_estimates WHERE message_id = ?`, messageID)
	return scanRecord(row)
}

// LatestForTrack returns the most recently processed record for a track
func (s *ResultStore) LatestForTrack(ctx context.Context, trackID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM key_estimates
WHERE track_id = ? ORDER BY processed_at DESC, rowid DESC LIMIT 1`, trackID)
	return scanRecord(row)
}

// Recent returns up to limit records, newest first
func (s *ResultStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM key_estimates
ORDER BY processed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return scanRecords(rows)
}

// FindByDigest returns every record whose chroma vector hashed to digest
func (s *ResultStore) FindByDigest(ctx context.Context, digest uint64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM key_estimates
WHERE chroma_digest = ? ORDER BY processed_at DESC`, int64(digest))
	if err != nil {
		return nil, fmt.Errorf("store: find by digest: %w", err)
	}
	return scanRecords(rows)
}

// Count returns the number of stored records
func (s *ResultStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM key_estimates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec           Record
		mode, errText sql.NullString
		chromaJSON    sql.NullString
		estimatesJSON sql.NullString
		digest        int64
		processedAt   int64
	)
	err := row.Scan(&rec.MessageID, &rec.TrackID, &rec.KeyName, &mode, &rec.KeyIndex, &rec.Confidence, &rec.Clarity,
		&rec.Status, &errText, &chromaJSON, &digest, &estimatesJSON, &processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("store: scan: %w", err)
	}

	rec.Mode = mode.String
	rec.Error = errText.String
	rec.ChromaDigest = uint64(digest)
	rec.ProcessedAt = time.UnixMilli(processedAt).UTC()
	if chromaJSON.Valid && chromaJSON.String != "" {
		if err := json.Unmarshal([]byte(chromaJSON.String), &rec.Chroma); err != nil {
			return Record{}, fmt.Errorf("store: decode chroma: %w", err)
		}
	}
	if estimatesJSON.Valid && estimatesJSON.String != "" {
		if err := json.Unmarshal([]byte(estimatesJSON.String), &rec.Estimates); err != nil {
			return Record{}, fmt.Errorf("store: decode estimates: %w", err)
		}
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return out, nil
}
