package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/storage"
)

// memBackend is a whole-collection backend kept in memory.
type memBackend struct {
	mu       sync.Mutex
	saved    []models.Note
	saveErr  error
	deleteFn func(models.Note) error
	perNote  bool
	jitter   bool
	saveOnes []string
	deletes  []string
}

func (m *memBackend) Name() string {
	if m.perNote {
		return storage.NameDir
	}
	return storage.NameKV
}

func (m *memBackend) Load(context.Context) ([]models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.saved), nil
}

func (m *memBackend) SaveAll(_ context.Context, notes []models.Note) (int, error) {
	if m.jitter {
		time.Sleep(time.Duration(rand.IntN(2000)) * time.Microsecond)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.saved = slices.Clone(notes)
	return len(notes), nil
}

func (m *memBackend) SaveOne(_ context.Context, n models.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveOnes = append(m.saveOnes, n.ID)
	return m.saveErr
}

func (m *memBackend) DeleteOne(_ context.Context, n models.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, n.ID)
	if m.deleteFn != nil {
		return m.deleteFn(n)
	}
	return nil
}

type recordedEvents struct {
	mu     sync.Mutex
	notes  []string
	status []Status
}

func (e *recordedEvents) PublishNoteEvent(kind, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notes = append(e.notes, kind+":"+id)
}

func (e *recordedEvents) PublishStatus(level, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = append(e.status, Status{Level: level, Message: message})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func sequentialIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func testRepo(t *testing.T, b storage.Backend, opts ...Option) *Repository {
	t.Helper()
	base := []Option{WithLogger(quietLogger()), WithIDGenerator(sequentialIDs())}
	r := New(b, append(base, opts...)...)
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func TestCreate_DerivesAndPersistsWholeCollection(t *testing.T) {
	b := &memBackend{}
	r := testRepo(t, b)

	n, err := r.Create(context.Background(), "First", "hello #go see [[Second]] #go")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.ID != "id-1" {
		t.Errorf("id = %q", n.ID)
	}
	if !slices.Equal(n.Tags, []string{"go"}) || !slices.Equal(n.Links, []string{"Second"}) {
		t.Errorf("tags = %v, links = %v", n.Tags, n.Links)
	}
	if !n.CreatedAt.Equal(n.UpdatedAt) {
		t.Errorf("createdAt %v != updatedAt %v", n.CreatedAt, n.UpdatedAt)
	}
	if len(b.saved) != 1 || b.saved[0].ID != "id-1" {
		t.Errorf("backend saved = %+v", b.saved)
	}
}

func TestCreate_PerNoteBackendWritesOneFile(t *testing.T) {
	b := &memBackend{perNote: true}
	r := testRepo(t, b)
	_, _ = r.Create(context.Background(), "A", "")
	_, _ = r.Create(context.Background(), "B", "")
	if !slices.Equal(b.saveOnes, []string{"id-1", "id-2"}) {
		t.Errorf("SaveOne calls = %v", b.saveOnes)
	}
	if len(b.saved) != 0 {
		t.Errorf("SaveAll should not be used for per-note backends")
	}
}

func TestCreate_PersistFailureKeepsNote(t *testing.T) {
	b := &memBackend{saveErr: errors.New("disk full")}
	ev := &recordedEvents{}
	r := testRepo(t, b, WithEvents(ev))

	n, err := r.Create(context.Background(), "Kept", "body")
	var pe *PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PersistError", err)
	}
	if _, getErr := r.Get(n.ID); getErr != nil {
		t.Errorf("note should stay in memory: %v", getErr)
	}
	if st := r.Status(); st.Level != LevelError {
		t.Errorf("status = %+v, want error level", st)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := testRepo(t, &memBackend{}, WithClock(func() time.Time { return clock }))

	n, _ := r.Create(ctx, "Old", "#old")
	clock = clock.Add(time.Minute)

	u, err := r.Update(ctx, n.ID, "New", "#new [[Old]]")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if u.Title != "New" || !slices.Equal(u.Tags, []string{"new"}) || !slices.Equal(u.Links, []string{"Old"}) {
		t.Errorf("updated = %+v", u)
	}
	if !u.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("createdAt changed: %v -> %v", n.CreatedAt, u.CreatedAt)
	}
	if !u.UpdatedAt.Equal(clock) {
		t.Errorf("updatedAt = %v, want %v", u.UpdatedAt, clock)
	}
}

func TestUpdateIfMatch(t *testing.T) {
	ctx := context.Background()
	r := testRepo(t, &memBackend{})
	n, _ := r.Create(ctx, "Guarded", "v1")
	sum := Checksum(n)

	if _, err := r.UpdateIfMatch(ctx, n.ID, "stale", "Guarded", "v2"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale sum err = %v, want ErrConflict", err)
	}
	if got, _ := r.Get(n.ID); got.Content != "v1" {
		t.Errorf("conflict changed content to %q", got.Content)
	}

	updated, err := r.UpdateIfMatch(ctx, n.ID, sum, "Guarded", "v2")
	if err != nil {
		t.Fatalf("UpdateIfMatch: %v", err)
	}
	if Checksum(updated) == sum {
		t.Error("checksum did not change with content")
	}
	if _, err := r.UpdateIfMatch(ctx, n.ID, sum, "Guarded", "v3"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("reused sum err = %v, want ErrConflict", err)
	}
}

func TestUpdate_UnknownID(t *testing.T) {
	b := &memBackend{}
	r := testRepo(t, b)
	_, _ = r.Create(context.Background(), "Only", "")

	_, err := r.Update(context.Background(), "missing", "x", "y")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if got := r.List(); len(got) != 1 || got[0].Title != "Only" {
		t.Errorf("collection changed: %+v", got)
	}
}

func TestDelete_ClearsSelection(t *testing.T) {
	ctx := context.Background()
	r := testRepo(t, &memBackend{})
	n, _ := r.Create(ctx, "Selected", "")
	if err := r.Select(n.ID); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := r.Delete(ctx, n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := r.Selected(); ok {
		t.Error("selection should be cleared")
	}
	if err := r.Delete(ctx, n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestDelete_BackendFailureStillRemoves(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{perNote: true, deleteFn: func(models.Note) error { return errors.New("permission denied") }}
	r := testRepo(t, b)
	n, _ := r.Create(ctx, "Doomed", "#cats")

	err := r.Delete(ctx, n.ID)
	var pe *PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PersistError", err)
	}
	if got := r.Search("doomed"); len(got) != 0 {
		t.Errorf("deleted note still searchable: %+v", got)
	}
	if _, err := r.Get(n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
}

func TestDelete_DirectoryBackendDropsFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir, err := storage.NewDir(root, storage.NamingID, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	r := testRepo(t, dir)
	keep, _ := r.Create(ctx, "Keep", "")
	gone, _ := r.Create(ctx, "Gone", "")

	if err := r.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	loaded, err := dir.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != keep.ID {
		t.Errorf("loaded = %+v, want only %s", loaded, keep.ID)
	}
}

func TestSearch_CaseInsensitiveAcrossFields(t *testing.T) {
	ctx := context.Background()
	r := testRepo(t, &memBackend{})
	_, _ = r.Create(ctx, "Cats", "")
	_, _ = r.Create(ctx, "Pets", "I like cats")
	_, _ = r.Create(ctx, "Tagged", "#cats")
	_, _ = r.Create(ctx, "Dogs", "woof")

	got := r.Search("CAT")
	if len(got) != 3 {
		t.Fatalf("results = %d, want 3", len(got))
	}
	titles := []string{got[0].Title, got[1].Title, got[2].Title}
	if !slices.Equal(titles, []string{"Cats", "Pets", "Tagged"}) {
		t.Errorf("order = %v", titles)
	}
	if all := r.Search(""); len(all) != 4 {
		t.Errorf("empty term = %d results, want 4", len(all))
	}
}

func TestCreate_ConcurrentSnapshotsKeepNewest(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{jitter: true}
	r := New(b, WithLogger(quietLogger()))
	if err := r.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Create(ctx, fmt.Sprintf("note %d", i), ""); err != nil {
				t.Errorf("Create: %v", err)
			}
		}()
	}
	wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(r.List()) != writers || len(b.saved) != writers {
		t.Errorf("memory = %d, backend = %d, want %d", len(r.List()), len(b.saved), writers)
	}
}

func TestResolveLink_Exact(t *testing.T) {
	r := testRepo(t, &memBackend{})
	n, _ := r.Create(context.Background(), "Target Note", "")

	if got, ok := r.ResolveLink("Target Note"); !ok || got.ID != n.ID {
		t.Errorf("ResolveLink = %+v, %v", got, ok)
	}
	if _, ok := r.ResolveLink("target note"); ok {
		t.Error("resolution must be case-sensitive")
	}
}

func TestFollow_StagesDraft(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{}
	r := testRepo(t, b)
	_, _ = r.Create(ctx, "Source", "see [[Missing]]")

	d, resolved := r.Follow("Missing")
	if resolved {
		t.Fatal("Missing should not resolve")
	}
	if sel, ok := r.Selected(); !ok || sel.ID != d.ID {
		t.Errorf("selected = %+v, %v", sel, ok)
	}
	if len(r.List()) != 1 || len(b.saved) != 1 {
		t.Errorf("draft must not be persisted: list=%d saved=%d", len(r.List()), len(b.saved))
	}

	saved, err := r.SaveDraft(ctx, d.ID, "now real #draft")
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if saved.Title != "Missing" || !slices.Equal(saved.Tags, []string{"draft"}) {
		t.Errorf("saved = %+v", saved)
	}
	if len(b.saved) != 2 {
		t.Errorf("backend saved = %d, want 2", len(b.saved))
	}
	if got, ok := r.Follow("Missing"); !ok || got.ID != d.ID {
		t.Errorf("follow after save = %+v, %v", got, ok)
	}
}

func TestBacklinksAndGraph(t *testing.T) {
	ctx := context.Background()
	r := testRepo(t, &memBackend{})
	a, _ := r.Create(ctx, "A", "to [[B]]")
	b, _ := r.Create(ctx, "B", "to [[A]] and [[Nowhere]]")

	bl := r.Backlinks("A")
	if len(bl) != 1 || bl[0].ID != b.ID {
		t.Errorf("backlinks(A) = %+v", bl)
	}
	nodes, links := r.Graph()
	if len(nodes) != 2 {
		t.Errorf("nodes = %d, want 2", len(nodes))
	}
	want := []models.GraphLink{{Source: a.ID, Target: b.ID}, {Source: b.ID, Target: a.ID}}
	if !slices.Equal(links, want) {
		t.Errorf("links = %+v, want %+v", links, want)
	}
}

func TestSaveAll_ReportsCount(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{}
	r := testRepo(t, b)
	_, _ = r.Create(ctx, "A", "")
	_, _ = r.Create(ctx, "B", "")

	n, err := r.SaveAll(ctx)
	if err != nil || n != 2 {
		t.Errorf("SaveAll = %d, %v", n, err)
	}
	if st := r.Status(); st.Message != "Saved 2 notes to kv storage" {
		t.Errorf("status = %q", st.Message)
	}
}

func TestGrantDirectory(t *testing.T) {
	ctx := context.Background()
	kv := &memBackend{}
	r := testRepo(t, kv)
	_, _ = r.Create(ctx, "In KV", "")

	if _, err := r.GrantDirectory(ctx, "", storage.NamingID); !errors.Is(err, apperr.ErrCancelled) {
		t.Errorf("empty path err = %v, want ErrCancelled", err)
	}
	if _, err := r.GrantDirectory(ctx, filepath.Join(t.TempDir(), "missing"), storage.NamingID); !errors.Is(err, apperr.ErrUnsupported) {
		t.Errorf("missing dir err = %v, want ErrUnsupported", err)
	}
	if r.Backend() != storage.NameKV || len(r.List()) != 1 {
		t.Fatalf("failed grants must not change state: backend=%s notes=%d", r.Backend(), len(r.List()))
	}

	root := t.TempDir()
	_ = os.WriteFile(filepath.Join(root, "on-disk.md"), []byte("# On Disk\n\n#file"), 0o644)
	dir, err := r.GrantDirectory(ctx, root, storage.NamingID)
	if err != nil {
		t.Fatalf("GrantDirectory: %v", err)
	}
	if dir.Root() == "" || r.Backend() != storage.NameDir || r.Root() != dir.Root() {
		t.Errorf("backend = %s, root = %q", r.Backend(), r.Root())
	}
	got := r.List()
	if len(got) != 1 || got[0].Title != "On Disk" {
		t.Errorf("collection = %+v, want directory contents only", got)
	}
}

func TestFollow_ReusesStagedDraft(t *testing.T) {
	r := testRepo(t, &memBackend{})

	first, _ := r.Follow("Nowhere")
	second, resolved := r.Follow("Nowhere")
	if resolved || second.ID != first.ID {
		t.Errorf("second follow = %q, want reuse of %q", second.ID, first.ID)
	}
	if sel, ok := r.Selected(); !ok || sel.ID != first.ID {
		t.Errorf("selected = %+v, %v", sel, ok)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.drafts) != 1 {
		t.Errorf("drafts = %d, want 1", len(r.drafts))
	}
}

func TestReplaceAll_RemovesStaleFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir, err := storage.NewDir(root, storage.NamingID, quietLogger())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	r := testRepo(t, dir)
	if _, err := r.Create(ctx, "Old", "gone after import"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	kept, _ := r.Create(ctx, "Kept", "also imported")

	now := time.Now()
	imported := []models.Note{
		{ID: "imp", Title: "Imported", Content: "fresh", CreatedAt: now, UpdatedAt: now},
		kept,
	}
	if n, err := r.ReplaceAll(ctx, imported); err != nil || n != 2 {
		t.Fatalf("ReplaceAll = %d, %v", n, err)
	}

	reopened, err := storage.NewDir(root, storage.NamingID, quietLogger())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	loaded, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var ids []string
	for _, n := range loaded {
		ids = append(ids, n.ID)
	}
	slices.Sort(ids)
	if want := []string{kept.ID, "imp"}; !slices.Equal(ids, want) {
		t.Errorf("on disk = %v, want %v", ids, want)
	}
}

func TestReplaceAll_StaleDeleteFailureReported(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{perNote: true, deleteFn: func(models.Note) error { return errors.New("read-only") }}
	r := testRepo(t, b)
	old, _ := r.Create(ctx, "Old", "")

	_, err := r.ReplaceAll(ctx, nil)
	var pe *PersistError
	if !errors.As(err, &pe) || pe.Op != "import" {
		t.Fatalf("err = %v, want import *PersistError", err)
	}
	if !slices.Equal(b.deletes, []string{old.ID}) {
		t.Errorf("deletes = %v", b.deletes)
	}
	if len(r.List()) != 0 {
		t.Errorf("collection = %+v, want empty", r.List())
	}
}

func TestApplyAndForgetExternal(t *testing.T) {
	ctx := context.Background()
	ev := &recordedEvents{}
	r := testRepo(t, &memBackend{perNote: true}, WithEvents(ev))
	n, _ := r.Create(ctx, "Same", "body")

	if _, changed := r.ApplyExternal(models.Note{ID: n.ID, Title: "Same", Content: "body"}); changed {
		t.Error("identical note should be ignored")
	}
	kind, changed := r.ApplyExternal(models.Note{ID: n.ID, Title: "Same", Content: "edited #ext", UpdatedAt: time.Now()})
	if !changed || kind != EventUpdated {
		t.Errorf("apply = %q, %v", kind, changed)
	}
	got, _ := r.Get(n.ID)
	if !slices.Equal(got.Tags, []string{"ext"}) || !got.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("applied = %+v", got)
	}
	if kind, _ := r.ApplyExternal(models.Note{ID: "new-file", Title: "New"}); kind != EventCreated {
		t.Errorf("kind = %q, want created", kind)
	}
	if !r.ForgetExternal("new-file") || r.ForgetExternal("new-file") {
		t.Error("ForgetExternal should succeed once")
	}
	if len(r.List()) != 1 {
		t.Errorf("notes = %d, want 1", len(r.List()))
	}
}
