// Package storage persists note collections. Two interchangeable backends
// exist: KV keeps the whole collection as one serialized blob, Dir keeps one
// Markdown file per note.
package storage

import (
	"context"

	"github.com/starford/zettel/internal/models"
)

// Backend names reported by Backend.Name.
const (
	NameKV  = "kv"
	NameDir = "dir"
)

// Backend is the capability set shared by every note store.
type Backend interface {
	// Name identifies the backend variant.
	Name() string
	// Load returns every persisted note. Order carries no meaning.
	Load(ctx context.Context) ([]models.Note, error)
	// SaveAll persists notes in order and returns how many succeeded.
	// Individual failures do not stop the batch; they are joined into err.
	SaveAll(ctx context.Context, notes []models.Note) (int, error)
	// SaveOne persists a single note. Backends without per-note
	// granularity treat it as a no-op.
	SaveOne(ctx context.Context, n models.Note) error
	// DeleteOne removes a single note, best effort.
	DeleteOne(ctx context.Context, n models.Note) error
}

// PerNote reports whether b persists notes individually. Callers write the
// whole collection after each change when it does not.
func PerNote(b Backend) bool {
	return b.Name() == NameDir
}

var (
	_ Backend = (*KV)(nil)
	_ Backend = (*Dir)(nil)
)
