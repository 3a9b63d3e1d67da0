// Package notes holds the in-memory note collection and keeps the active
// storage backend in step with it.
package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/zettel/internal/annotate"
	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/checksum"
	"github.com/starford/zettel/internal/mdcodec"
	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/storage"
)

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithEvents sets the sink for note events and status messages.
func WithEvents(e Events) Option {
	return func(r *Repository) { r.events = e }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator overrides uuid.NewString.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) { r.newID = gen }
}

// Repository is the session's note collection bound to one storage backend.
//
// The collection slice is replaced on every mutation and never modified in
// place, so a snapshot handed to a backend stays stable while later changes
// proceed. Backend I/O happens outside the lock. Every replacement bumps gen;
// snapshot writes are serialized by writeMu and a snapshot older than the
// last one written to the same backend is dropped.
type Repository struct {
	mu       sync.RWMutex
	backend  storage.Backend
	notes    []models.Note
	gen      uint64
	drafts   map[string]models.Note
	selected string
	status   Status

	writeMu  sync.Mutex
	written  uint64
	writtenB storage.Backend

	logger *slog.Logger
	events Events
	now    func() time.Time
	newID  func() string
}

// New returns a Repository bound to backend. Call Open to load its notes.
func New(backend storage.Backend, opts ...Option) *Repository {
	r := &Repository{
		backend: backend,
		notes:   []models.Note{},
		drafts:  make(map[string]models.Note),
		logger:  slog.Default(),
		events:  nopEvents{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open replaces the collection with whatever the active backend loads.
func (r *Repository) Open(ctx context.Context) error {
	r.mu.RLock()
	b := r.backend
	r.mu.RUnlock()
	return r.UseBackend(ctx, b)
}

// UseBackend makes b the active backend and replaces the visible collection
// with its contents. There is no merge with the previous backend. On a load
// error nothing changes.
func (r *Repository) UseBackend(ctx context.Context, b storage.Backend) error {
	loaded, err := b.Load(ctx)
	if err != nil {
		r.report(LevelError, fmt.Sprintf("Failed to load notes from %s storage: %v", b.Name(), err))
		return fmt.Errorf("notes: load %s: %w", b.Name(), err)
	}
	for i := range loaded {
		loaded[i] = annotate.Derive(loaded[i])
	}

	r.mu.Lock()
	r.backend = b
	r.commitLocked(loaded)
	r.drafts = make(map[string]models.Note)
	r.selected = ""
	r.mu.Unlock()

	r.report(LevelInfo, fmt.Sprintf("Loaded %d notes from %s storage", len(loaded), b.Name()))
	return nil
}

// GrantDirectory switches to a directory of Markdown files. An empty path
// means the caller declined and yields apperr.ErrCancelled; a directory that
// cannot hold notes yields apperr.ErrUnsupported. In both cases the current
// backend stays active.
func (r *Repository) GrantDirectory(ctx context.Context, path string, naming storage.Naming) (*storage.Dir, error) {
	if strings.TrimSpace(path) == "" {
		r.report(LevelInfo, "Directory selection cancelled")
		return nil, fmt.Errorf("notes: grant directory: %w", apperr.ErrCancelled)
	}
	dir, err := storage.NewDir(path, naming, r.logger)
	if err != nil {
		r.report(LevelError, fmt.Sprintf("Directory storage unavailable, staying on %s storage: %v", r.Backend(), err))
		return nil, fmt.Errorf("notes: grant directory: %w", err)
	}
	if err := r.UseBackend(ctx, dir); err != nil {
		return nil, err
	}
	return dir, nil
}

// Backend returns the name of the active backend.
func (r *Repository) Backend() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backend.Name()
}

// Root returns the directory the active backend writes to, or "" when it
// is not directory-backed.
func (r *Repository) Root() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.backend.(interface{ Root() string }); ok {
		return d.Root()
	}
	return ""
}

// Status returns the most recent status message.
func (r *Repository) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Create adds a new note and persists it. A *PersistError means the note was
// created but the backend did not record it.
func (r *Repository) Create(ctx context.Context, title, content string) (models.Note, error) {
	now := r.now()
	n := annotate.Derive(models.Note{
		ID:        r.newID(),
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	})

	r.mu.Lock()
	next := append(slices.Clip(r.notes), n)
	gen := r.commitLocked(next)
	b := r.backend
	r.mu.Unlock()

	return n.Clone(), r.persist(ctx, b, EventCreated, n, snapshot{next, gen})
}

// Update replaces a note's title and content, re-derives its tags and links
// and bumps UpdatedAt. An unknown id yields apperr.ErrNotFound and changes
// nothing.
func (r *Repository) Update(ctx context.Context, id, title, content string) (models.Note, error) {
	return r.UpdateIfMatch(ctx, id, "", title, content)
}

// UpdateIfMatch is Update guarded by the note's Checksum. A non-empty sum
// that no longer matches yields apperr.ErrConflict and changes nothing.
func (r *Repository) UpdateIfMatch(ctx context.Context, id, sum, title, content string) (models.Note, error) {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return models.Note{}, fmt.Errorf("notes: update %s: %w", id, apperr.ErrNotFound)
	}
	n := r.notes[i]
	if sum != "" && sum != Checksum(n) {
		r.mu.Unlock()
		return models.Note{}, fmt.Errorf("notes: update %s: %w", id, apperr.ErrConflict)
	}
	n.Title = title
	n.Content = content
	n.UpdatedAt = r.now()
	n = annotate.Derive(n)

	next := slices.Clone(r.notes)
	next[i] = n
	gen := r.commitLocked(next)
	b := r.backend
	r.mu.Unlock()

	return n.Clone(), r.persist(ctx, b, EventUpdated, n, snapshot{next, gen})
}

// Delete removes a note from the collection and clears the selection if it
// pointed at it. The removal is unconditional: a backend failure is returned
// as *PersistError but the note stays gone from memory.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.drafts[id]; ok {
		delete(r.drafts, id)
		if r.selected == id {
			r.selected = ""
		}
		r.mu.Unlock()
		return nil
	}
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("notes: delete %s: %w", id, apperr.ErrNotFound)
	}
	n := r.notes[i]
	next := slices.Delete(slices.Clone(r.notes), i, i+1)
	gen := r.commitLocked(next)
	if r.selected == id {
		r.selected = ""
	}
	b := r.backend
	r.mu.Unlock()

	return r.persist(ctx, b, EventDeleted, n, snapshot{next, gen})
}

// Get returns the note with the given id.
func (r *Repository) Get(id string) (models.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.notes[i].Clone(), nil
	}
	if d, ok := r.drafts[id]; ok {
		return d.Clone(), nil
	}
	return models.Note{}, fmt.Errorf("notes: get %s: %w", id, apperr.ErrNotFound)
}

// List returns every note in collection order.
func (r *Repository) List() []models.Note {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.notes)
}

// Search returns the notes whose title, content, or any tag contains term,
// ignoring case, in collection order. An empty term matches everything.
func (r *Repository) Search(term string) []models.Note {
	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(term)
	out := []models.Note{}
	for _, n := range r.notes {
		if matches(n, needle) {
			out = append(out, n.Clone())
		}
	}
	return out
}

func matches(n models.Note, needle string) bool {
	if strings.Contains(strings.ToLower(n.Title), needle) || strings.Contains(strings.ToLower(n.Content), needle) {
		return true
	}
	for _, t := range n.Tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// ResolveLink looks a note up by exact, case-sensitive title.
func (r *Repository) ResolveLink(title string) (models.Note, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.notes {
		if n.Title == title {
			return n.Clone(), true
		}
	}
	return models.Note{}, false
}

// Follow selects the note a [[link]] points at. When no note has that title
// an empty draft is staged and selected instead, or the draft already staged
// for that title is reselected. Drafts are not persisted until SaveDraft. The
// boolean reports whether the link resolved.
func (r *Repository) Follow(title string) (models.Note, bool) {
	if n, ok := r.ResolveLink(title); ok {
		r.mu.Lock()
		r.selected = n.ID
		r.mu.Unlock()
		return n, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, d := range r.drafts {
		if d.Title == title {
			r.selected = id
			return d.Clone(), false
		}
	}
	now := r.now()
	d := annotate.Derive(models.Note{
		ID:        r.newID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	})
	r.drafts[d.ID] = d
	r.selected = d.ID
	return d.Clone(), false
}

// SaveDraft promotes a staged draft into the collection with the given
// content and persists it.
func (r *Repository) SaveDraft(ctx context.Context, id, content string) (models.Note, error) {
	r.mu.Lock()
	d, ok := r.drafts[id]
	if !ok {
		r.mu.Unlock()
		return models.Note{}, fmt.Errorf("notes: save draft %s: %w", id, apperr.ErrNotFound)
	}
	delete(r.drafts, id)
	d.Content = content
	d.UpdatedAt = r.now()
	d = annotate.Derive(d)
	next := append(slices.Clip(r.notes), d)
	gen := r.commitLocked(next)
	b := r.backend
	r.mu.Unlock()

	return d.Clone(), r.persist(ctx, b, EventCreated, d, snapshot{next, gen})
}

// Select marks a note or draft as the current one.
func (r *Repository) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drafts[id]; !ok && r.indexLocked(id) < 0 {
		return fmt.Errorf("notes: select %s: %w", id, apperr.ErrNotFound)
	}
	r.selected = id
	return nil
}

// Selected returns the current note or draft, if any.
func (r *Repository) Selected() (models.Note, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected == "" {
		return models.Note{}, false
	}
	if i := r.indexLocked(r.selected); i >= 0 {
		return r.notes[i].Clone(), true
	}
	if d, ok := r.drafts[r.selected]; ok {
		return d.Clone(), true
	}
	return models.Note{}, false
}

// ClearSelection drops the current selection.
func (r *Repository) ClearSelection() {
	r.mu.Lock()
	r.selected = ""
	r.mu.Unlock()
}

// Backlinks returns the notes that link to title.
func (r *Repository) Backlinks(title string) []models.Note {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []models.Note{}
	for _, n := range r.notes {
		if slices.Contains(n.Links, title) {
			out = append(out, n.Clone())
		}
	}
	return out
}

// Graph returns one node per note and one edge per link that resolves to a
// note by title.
func (r *Repository) Graph() ([]models.GraphNode, []models.GraphLink) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byTitle := make(map[string]string, len(r.notes))
	nodes := make([]models.GraphNode, 0, len(r.notes))
	for _, n := range r.notes {
		if _, dup := byTitle[n.Title]; !dup {
			byTitle[n.Title] = n.ID
		}
		nodes = append(nodes, models.GraphNode{ID: n.ID, Title: n.Title, Tags: slices.Clone(n.Tags)})
	}
	links := []models.GraphLink{}
	for _, n := range r.notes {
		for _, l := range n.Links {
			if target, ok := byTitle[l]; ok {
				links = append(links, models.GraphLink{Source: n.ID, Target: target})
			}
		}
	}
	return nodes, links
}

// SaveAll writes the whole collection to the active backend and returns how
// many notes were saved. Per-note failures do not stop the batch.
func (r *Repository) SaveAll(ctx context.Context) (int, error) {
	r.mu.RLock()
	snap := snapshot{r.notes, r.gen}
	b := r.backend
	r.mu.RUnlock()

	saved, err := r.writeSnapshot(ctx, b, snap)
	if err != nil {
		r.logger.Warn("save all incomplete",
			slog.String("backend", b.Name()),
			slog.Int("saved", saved),
			slog.Int("total", len(snap.notes)),
			slog.String("error", err.Error()))
		r.report(LevelError, fmt.Sprintf("Saved %d of %d notes to %s storage", saved, len(snap.notes), b.Name()))
		return saved, &PersistError{Op: "save all", Err: err}
	}
	r.report(LevelInfo, fmt.Sprintf("Saved %d notes to %s storage", saved, b.Name()))
	return saved, nil
}

// ReplaceAll swaps the whole collection for notes, as an import does, and
// writes it to the active backend. Tags and links are re-derived. On a
// per-note backend the files of notes that did not survive are removed.
func (r *Repository) ReplaceAll(ctx context.Context, notes []models.Note) (int, error) {
	next := make([]models.Note, len(notes))
	keep := make(map[string]bool, len(notes))
	for i, n := range notes {
		next[i] = annotate.Derive(n)
		keep[n.ID] = true
	}

	r.mu.Lock()
	prev := r.notes
	r.commitLocked(next)
	r.drafts = make(map[string]models.Note)
	if r.indexLocked(r.selected) < 0 {
		r.selected = ""
	}
	b := r.backend
	r.mu.Unlock()

	var errs []error
	if storage.PerNote(b) {
		for _, n := range prev {
			if keep[n.ID] {
				continue
			}
			if err := b.DeleteOne(ctx, n); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				r.logger.Warn("stale note not removed",
					slog.String("id", n.ID),
					slog.String("backend", b.Name()),
					slog.String("error", err.Error()))
				errs = append(errs, err)
			}
		}
	}

	r.report(LevelInfo, fmt.Sprintf("Imported %d notes", len(next)))
	saved, err := r.SaveAll(ctx)
	if len(errs) > 0 {
		r.report(LevelError, fmt.Sprintf("Failed to remove %d replaced notes from %s storage", len(errs), b.Name()))
		return saved, &PersistError{Op: "import", Err: errors.Join(append(errs, err)...)}
	}
	return saved, err
}

// ApplyExternal folds a note read from outside the repository (an edited
// file) into memory without writing it back. It reports the event kind and
// whether anything changed. A note matching the in-memory title and trimmed
// content is ignored, which covers the echo of the repository's own writes.
func (r *Repository) ApplyExternal(n models.Note) (string, bool) {
	n = annotate.Derive(n)

	r.mu.Lock()
	i := r.indexLocked(n.ID)
	kind := EventCreated
	if i >= 0 {
		cur := r.notes[i]
		if cur.Title == n.Title && strings.TrimSpace(cur.Content) == strings.TrimSpace(n.Content) {
			r.mu.Unlock()
			return "", false
		}
		n.CreatedAt = cur.CreatedAt
		next := slices.Clone(r.notes)
		next[i] = n
		r.commitLocked(next)
		kind = EventUpdated
	} else {
		r.commitLocked(append(slices.Clip(r.notes), n))
	}
	r.mu.Unlock()

	r.events.PublishNoteEvent(kind, n.ID)
	return kind, true
}

// ForgetExternal drops a note whose backing file vanished, without touching
// the backend.
func (r *Repository) ForgetExternal(id string) bool {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	r.commitLocked(slices.Delete(slices.Clone(r.notes), i, i+1))
	if r.selected == id {
		r.selected = ""
	}
	r.mu.Unlock()

	r.events.PublishNoteEvent(EventDeleted, id)
	return true
}

// snapshot is one revision of the collection.
type snapshot struct {
	notes []models.Note
	gen   uint64
}

// commitLocked installs next as the visible collection and returns its
// generation. r.mu must be held for writing.
func (r *Repository) commitLocked(next []models.Note) uint64 {
	r.notes = next
	r.gen++
	return r.gen
}

// writeSnapshot hands snap to b unless a newer revision already reached b.
func (r *Repository) writeSnapshot(ctx context.Context, b storage.Backend, snap snapshot) (int, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.writtenB == b && r.written > snap.gen {
		return len(snap.notes), nil
	}
	saved, err := b.SaveAll(ctx, snap.notes)
	if err == nil {
		r.written, r.writtenB = snap.gen, b
	}
	return saved, err
}

// persist records a single change in b. Per-note backends get the note
// itself; the others get the full snapshot.
func (r *Repository) persist(ctx context.Context, b storage.Backend, kind string, n models.Note, snap snapshot) error {
	var err error
	switch {
	case !storage.PerNote(b):
		_, err = r.writeSnapshot(ctx, b, snap)
	case kind == EventDeleted:
		err = b.DeleteOne(ctx, n)
	default:
		err = b.SaveOne(ctx, n)
	}

	r.events.PublishNoteEvent(kind, n.ID)
	if err == nil {
		return nil
	}

	op := opNames[kind]
	r.logger.Warn("persist failed",
		slog.String("op", op),
		slog.String("id", n.ID),
		slog.String("backend", b.Name()),
		slog.String("error", err.Error()))
	msg := fmt.Sprintf("Failed to %s %q in %s storage: %v", op, n.Title, b.Name(), err)
	if errors.Is(err, apperr.ErrNotFound) {
		msg = fmt.Sprintf("Note %q had no file to remove in %s storage", n.Title, b.Name())
	}
	r.report(LevelError, msg)
	return &PersistError{Op: op, ID: n.ID, Err: err}
}

var opNames = map[string]string{
	EventCreated: "create",
	EventUpdated: "update",
	EventDeleted: "delete",
}

func (r *Repository) report(level, msg string) {
	r.mu.Lock()
	r.status = Status{Level: level, Message: msg, At: r.now()}
	r.mu.Unlock()

	if level == LevelError {
		r.logger.Error(msg)
	} else {
		r.logger.Info(msg)
	}
	r.events.PublishStatus(level, msg)
}

func (r *Repository) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(r.notes, func(n models.Note) bool { return n.ID == id })
}

// Checksum identifies a note revision by the digest of its Markdown form.
func Checksum(n models.Note) string {
	return checksum.Sum(mdcodec.Encode(n))
}

func cloneAll(in []models.Note) []models.Note {
	out := make([]models.Note, len(in))
	for i, n := range in {
		out[i] = n.Clone()
	}
	return out
}
