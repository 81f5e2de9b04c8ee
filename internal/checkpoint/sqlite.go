package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	run_id      TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	payload     BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS processed_files (
	source_key   TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	processed_at TIMESTAMP NOT NULL
);
`

// payload is the part of a checkpoint stored as one JSON blob.
type payload struct {
	Stats              json.RawMessage `json:"stats"`
	Records            json.RawMessage `json:"records"`
	CompletedDistricts []string        `json:"completed_districts"`
	Failed             []string        `json:"failed,omitempty"`
	Summaries          json.RawMessage `json:"summaries"`
}

// SQLiteStore keeps the checkpoint in a SQLite database. Processed files
// live in their own table so they can be inspected with plain SQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate checkpoint schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the checkpoint, or returns ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context) (*Checkpoint, error) {
	var (
		runID     string
		updatedAt time.Time
		blob      []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, updated_at, payload FROM checkpoints WHERE id = 1`,
	).Scan(&runID, &updatedAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}

	var p payload
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("decode checkpoint payload: %w", err)
	}

	cp := &Checkpoint{RunID: id, UpdatedAt: updatedAt, CompletedDistricts: p.CompletedDistricts, Failed: p.Failed}
	if err := unmarshalOptional(p.Stats, &cp.Stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if err := unmarshalOptional(p.Records, &cp.Records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if err := unmarshalOptional(p.Summaries, &cp.Summaries); err != nil {
		return nil, fmt.Errorf("decode summaries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source_key FROM processed_files ORDER BY source_key`)
	if err != nil {
		return nil, fmt.Errorf("read processed files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan processed file: %w", err)
		}
		cp.Processed = append(cp.Processed, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read processed files: %w", err)
	}

	return cp, nil
}

// Save replaces the checkpoint, processed files included, in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	stats, err := json.Marshal(cp.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	records, err := json.Marshal(cp.Records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	summaries, err := json.Marshal(cp.Summaries)
	if err != nil {
		return fmt.Errorf("encode summaries: %w", err)
	}
	blob, err := json.Marshal(payload{
		Stats:              stats,
		Records:            records,
		CompletedDistricts: cp.CompletedDistricts,
		Failed:             cp.Failed,
		Summaries:          summaries,
	})
	if err != nil {
		return fmt.Errorf("encode checkpoint payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, run_id, updated_at, payload) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET run_id = excluded.run_id, updated_at = excluded.updated_at, payload = excluded.payload
	`, cp.RunID.String(), updatedAt, blob)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_files`); err != nil {
		return fmt.Errorf("clear processed files: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO processed_files (source_key, run_id, processed_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare processed insert: %w", err)
	}
	defer stmt.Close()

	for _, key := range cp.Processed {
		if _, err := stmt.ExecContext(ctx, key, cp.RunID.String(), updatedAt); err != nil {
			return fmt.Errorf("write processed file %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Delete clears the checkpoint and processed files.
func (s *SQLiteStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints; DELETE FROM processed_files;`); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unmarshalOptional(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
