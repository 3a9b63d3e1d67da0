package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/zettel/internal/models"
)

// NotesKey is the namespaced entry that holds the serialized collection.
const NotesKey = "zettel.notes"

const kvSchemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// KV is a Backend holding the whole collection as one JSON blob in a SQLite
// key-value table. It has no per-note granularity.
type KV struct {
	conn *sql.DB
}

// OpenKV opens (or creates) the SQLite database at dsn and applies the schema.
func OpenKV(dsn string) (*KV, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open kv: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping kv: %w", err)
	}
	if _, err := conn.Exec(kvSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply kv schema: %w", err)
	}
	return &KV{conn: conn}, nil
}

// Close closes the underlying database connection.
func (kv *KV) Close() error {
	return kv.conn.Close()
}

// Name implements Backend.
func (kv *KV) Name() string { return NameKV }

// Load implements Backend. A missing entry is an empty collection.
func (kv *KV) Load(ctx context.Context) ([]models.Note, error) {
	var raw string
	err := kv.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, NotesKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []models.Note{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: kv load: %w", err)
	}
	var notes []models.Note
	if err := json.Unmarshal([]byte(raw), &notes); err != nil {
		return nil, fmt.Errorf("storage: kv decode: %w", err)
	}
	if notes == nil {
		notes = []models.Note{}
	}
	return notes, nil
}

// SaveAll implements Backend by overwriting the single blob.
func (kv *KV) SaveAll(ctx context.Context, notes []models.Note) (int, error) {
	if notes == nil {
		notes = []models.Note{}
	}
	raw, err := json.Marshal(notes)
	if err != nil {
		return 0, fmt.Errorf("storage: kv encode: %w", err)
	}
	_, err = kv.conn.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, NotesKey, string(raw), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("storage: kv save: %w", err)
	}
	return len(notes), nil
}

// SaveOne implements Backend; the next SaveAll carries the change.
func (kv *KV) SaveOne(context.Context, models.Note) error { return nil }

// DeleteOne implements Backend; the next SaveAll carries the change.
func (kv *KV) DeleteOne(context.Context, models.Note) error { return nil }
