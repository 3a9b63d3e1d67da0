package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/mdcodec"
	"github.com/starford/zettel/internal/models"
)

// Naming selects how note files are named inside the directory.
type Naming string

const (
	// NamingID stores each note as <id>.md. Titles may repeat freely.
	NamingID Naming = "id"
	// NamingTitle stores each note under its sanitized title. Two titles that
	// sanitize to the same stem share one file and the last write wins.
	NamingTitle Naming = "title"
)

// Dir is a Backend keeping one Markdown file per note.
type Dir struct {
	fs     *FS
	naming Naming
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
	// files maps note id to the file it was last loaded from or written to.
	files map[string]string
}

// NewDir opens the directory at root as a note store. The directory must
// exist and be writable; otherwise the error wraps apperr.ErrUnsupported.
func NewDir(root string, naming Naming, logger *slog.Logger) (*Dir, error) {
	fs, err := NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrUnsupported, err)
	}
	if err := fs.Writable(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrUnsupported, err)
	}
	if naming == "" {
		naming = NamingID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{
		fs:     fs,
		naming: naming,
		logger: logger,
		now:    time.Now,
		files:  make(map[string]string),
	}, nil
}

// Name implements Backend.
func (d *Dir) Name() string { return NameDir }

// Root returns the absolute directory path.
func (d *Dir) Root() string { return d.fs.Root() }

// Filename returns the file name n is stored under.
func (d *Dir) Filename(n models.Note) string {
	if d.naming == NamingTitle {
		return mdcodec.Sanitize(n.Title) + mdcodec.Ext
	}
	return n.ID + mdcodec.Ext
}

// Load implements Backend. Files that cannot be read are logged and skipped.
func (d *Dir) Load(_ context.Context) ([]models.Note, error) {
	names, err := d.fs.List()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = make(map[string]string, len(names))

	out := make([]models.Note, 0, len(names))
	for _, name := range names {
		data, err := d.fs.Read(name)
		if err != nil {
			d.logger.Warn("dir: read failed", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		stem, _ := mdcodec.Stem(name)
		n := mdcodec.Decode(data, stem, d.now())
		d.files[n.ID] = name
		out = append(out, n)
	}
	return out, nil
}

// Decode reads a single file from the directory. When the file is the
// known home of a note, that note's id is kept; otherwise the file stem is
// the id.
func (d *Dir) Decode(name string) (models.Note, error) {
	data, err := d.fs.Read(name)
	if err != nil {
		return models.Note{}, err
	}
	stem, _ := mdcodec.Stem(name)
	n := mdcodec.Decode(data, stem, d.now())

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.idForFileLocked(name); ok {
		n.ID = id
	}
	d.claimLocked(n.ID, name)
	return n, nil
}

// SaveAll implements Backend.
func (d *Dir) SaveAll(ctx context.Context, notes []models.Note) (int, error) {
	saved := 0
	var errs []error
	for _, n := range notes {
		if err := d.SaveOne(ctx, n); err != nil {
			d.logger.Warn("dir: save failed", slog.String("id", n.ID), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

// SaveOne implements Backend. A file already holding identical bytes is left
// untouched.
func (d *Dir) SaveOne(_ context.Context, n models.Note) error {
	name := d.Filename(n)
	data := mdcodec.Encode(n)

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.files[n.ID]; ok && prev != name {
		// Title changed under title naming: carry the old file over.
		if err := d.fs.Move(prev, name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: save %s: %w", n.ID, err)
		}
	}

	if existing, err := d.fs.Read(name); err == nil && bytes.Equal(existing, data) {
		d.claimLocked(n.ID, name)
		return nil
	}
	if err := d.fs.Write(name, data); err != nil {
		return fmt.Errorf("storage: save %s: %w", n.ID, err)
	}
	d.claimLocked(n.ID, name)
	return nil
}

// DeleteOne implements Backend. A missing file yields apperr.ErrNotFound.
func (d *Dir) DeleteOne(_ context.Context, n models.Note) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name, ok := d.files[n.ID]
	if !ok {
		name = d.Filename(n)
	}
	if err := d.fs.Delete(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: delete %s: %w", n.ID, apperr.ErrNotFound)
		}
		return err
	}
	delete(d.files, n.ID)
	return nil
}

// Release forgets the file name after it disappeared from disk and returns
// the id of the note that lived there.
func (d *Dir) Release(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.idForFileLocked(name)
	if ok {
		delete(d.files, id)
	}
	return id, ok
}

func (d *Dir) idForFileLocked(name string) (string, bool) {
	for id, f := range d.files {
		if f == name {
			return id, true
		}
	}
	return "", false
}

// claimLocked records name as the file of id. Any other id still pointing at
// name loses it, so each file maps back to exactly one note.
func (d *Dir) claimLocked(id, name string) {
	for other, f := range d.files {
		if f == name && other != id {
			delete(d.files, other)
		}
	}
	d.files[id] = name
}
