// Package testutil provides shared test helpers for setting up note stores
// and repositories.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/zettel/internal/notes"
	"github.com/starford/zettel/internal/storage"
)

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// KV opens a key-value store in a temporary SQLite file that is closed on
// cleanup.
func KV(t *testing.T) *storage.KV {
	t.Helper()
	kv, err := storage.OpenKV(filepath.Join(t.TempDir(), "zettel-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

// Dir opens a directory store over a fresh temp directory and returns both.
func Dir(t *testing.T, naming storage.Naming) (*storage.Dir, string) {
	t.Helper()
	root := t.TempDir()
	d, err := storage.NewDir(root, naming, QuietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return d, root
}

// Repo builds a repository over b and loads it.
func Repo(t *testing.T, b storage.Backend, opts ...notes.Option) *notes.Repository {
	t.Helper()
	opts = append([]notes.Option{notes.WithLogger(QuietLogger())}, opts...)
	repo := notes.New(b, opts...)
	if err := repo.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return repo
}
