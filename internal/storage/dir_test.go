package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tempDir(t *testing.T, naming Naming) (*Dir, string) {
	t.Helper()
	root := t.TempDir()
	d, err := NewDir(root, naming, quietLogger())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	return d, root
}

func note(id, title, content string) models.Note {
	now := time.Now()
	return models.Note{ID: id, Title: title, Content: content, Tags: []string{}, Links: []string{}, CreatedAt: now, UpdatedAt: now}
}

func TestDir_SaveOneAndLoad(t *testing.T) {
	ctx := context.Background()
	d, root := tempDir(t, NamingID)

	if err := d.SaveOne(ctx, note("n1", "First", "hello #go [[Second]]")); err != nil {
		t.Fatalf("SaveOne: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "n1.md"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "# First\n\nhello #go [[Second]]" {
		t.Errorf("file = %q", data)
	}

	notes, err := d.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("len = %d, want 1", len(notes))
	}
	got := notes[0]
	if got.ID != "n1" || got.Title != "First" || got.Content != "hello #go [[Second]]" {
		t.Errorf("loaded = %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "go" || len(got.Links) != 1 || got.Links[0] != "Second" {
		t.Errorf("derived fields = %v / %v", got.Tags, got.Links)
	}
}

func TestDir_LoadSkipsOtherFiles(t *testing.T) {
	d, root := tempDir(t, NamingID)
	_ = os.WriteFile(filepath.Join(root, "a.md"), []byte("# A\n\nbody"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "plain.md"), []byte("no heading"), 0o644)

	notes, err := d.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("len = %d, want 2", len(notes))
	}
	for _, n := range notes {
		if n.ID == "plain" && n.Title != "plain" {
			t.Errorf("headingless title = %q, want file stem", n.Title)
		}
	}
}

func TestDir_LoadSkipsUnreadableFiles(t *testing.T) {
	ctx := context.Background()
	d, root := tempDir(t, NamingID)
	if err := d.SaveOne(ctx, note("good", "Good", "kept")); err != nil {
		t.Fatalf("SaveOne: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "missing-target"), filepath.Join(root, "broken.md")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	notes, err := d.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "good" {
		t.Errorf("loaded = %+v, want only the readable note", notes)
	}
}

func TestDir_SaveAllIdempotent(t *testing.T) {
	ctx := context.Background()
	d, root := tempDir(t, NamingID)
	notes := []models.Note{note("a", "A", "one"), note("b", "B", "two")}

	if n, err := d.SaveAll(ctx, notes); err != nil || n != 2 {
		t.Fatalf("SaveAll = %d, %v", n, err)
	}
	before := snapshot(t, root)

	// Back-date the files so a rewrite would be visible in the mtime.
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	for name := range before {
		_ = os.Chtimes(filepath.Join(root, name), past, past)
	}

	if n, err := d.SaveAll(ctx, notes); err != nil || n != 2 {
		t.Fatalf("second SaveAll = %d, %v", n, err)
	}
	after := snapshot(t, root)
	if len(after) != len(before) {
		t.Fatalf("file set changed: %v -> %v", before, after)
	}
	for name, data := range before {
		if after[name] != data {
			t.Errorf("%s changed: %q -> %q", name, data, after[name])
		}
		info, _ := os.Stat(filepath.Join(root, name))
		if !info.ModTime().Equal(past) {
			t.Errorf("%s was rewritten", name)
		}
	}
}

func TestDir_SaveAllContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	d, _ := tempDir(t, NamingID)
	notes := []models.Note{
		note("ok-1", "One", "1"),
		note("../escape", "Bad", "x"),
		note("ok-2", "Two", "2"),
	}
	n, err := d.SaveAll(ctx, notes)
	if n != 2 {
		t.Errorf("saved = %d, want 2", n)
	}
	if err == nil {
		t.Error("expected joined error for the failing note")
	}
	loaded, _ := d.Load(ctx)
	if len(loaded) != 2 {
		t.Errorf("loaded = %d, want 2", len(loaded))
	}
}

func TestDir_TitleNamingCollision(t *testing.T) {
	ctx := context.Background()
	d, root := tempDir(t, NamingTitle)

	a := note("a", "Hello World", "from a")
	b := note("b", "hello-world", "from b")
	if d.Filename(a) != d.Filename(b) {
		t.Fatalf("filenames differ: %q vs %q", d.Filename(a), d.Filename(b))
	}
	if n, err := d.SaveAll(ctx, []models.Note{a, b}); err != nil || n != 2 {
		t.Fatalf("SaveAll = %d, %v", n, err)
	}

	files := snapshot(t, root)
	if len(files) != 1 {
		t.Fatalf("files = %d, want exactly one surviving file", len(files))
	}
	if files["hello-world.md"] != "# hello-world\n\nfrom b" {
		t.Errorf("survivor = %q, want last write", files["hello-world.md"])
	}
}

func TestDir_TitleNamingCollisionLastWriterOwnsFile(t *testing.T) {
	ctx := context.Background()
	d, root := tempDir(t, NamingTitle)

	if _, err := d.SaveAll(ctx, []models.Note{note("a", "Hello World", "from a"), note("b", "hello-world", "from b")}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	_ = os.WriteFile(filepath.Join(root, "hello-world.md"), []byte("# hello-world\n\nedited"), 0o644)

	for range 10 {
		n, err := d.Decode("hello-world.md")
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if n.ID != "b" {
			t.Fatalf("decoded id = %q, want b", n.ID)
		}
	}
	if id, ok := d.Release("hello-world.md"); !ok || id != "b" {
		t.Errorf("Release = %q, %v, want b", id, ok)
	}
	if _, ok := d.Release("hello-world.md"); ok {
		t.Error("file still claimed after release")
	}
}

func TestDir_IDNamingNoCollision(t *testing.T) {
	ctx := context.Background()
	d, root := tempDir(t, NamingID)

	a := note("a", "Hello World", "from a")
	b := note("b", "hello-world", "from b")
	if _, err := d.SaveAll(ctx, []models.Note{a, b}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if files := snapshot(t, root); len(files) != 2 {
		t.Errorf("files = %d, want 2", len(files))
	}
}

func TestDir_TitleNamingRenameMovesFile(t *testing.T) {
	ctx := context.Background()
	d, root := tempDir(t, NamingTitle)

	n := note("a", "Old Name", "body")
	if err := d.SaveOne(ctx, n); err != nil {
		t.Fatalf("SaveOne: %v", err)
	}
	n.Title = "New Name"
	if err := d.SaveOne(ctx, n); err != nil {
		t.Fatalf("SaveOne renamed: %v", err)
	}
	files := snapshot(t, root)
	if _, ok := files["old-name.md"]; ok {
		t.Error("old file should have been moved")
	}
	if files["new-name.md"] != "# New Name\n\nbody" {
		t.Errorf("new file = %q", files["new-name.md"])
	}
}

func TestDir_DeleteOne(t *testing.T) {
	ctx := context.Background()
	d, root := tempDir(t, NamingID)
	n := note("gone", "Gone", "bye")
	_ = d.SaveOne(ctx, n)

	if err := d.DeleteOne(ctx, n); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "gone.md")); !os.IsNotExist(err) {
		t.Error("file still exists")
	}
	if err := d.DeleteOne(ctx, n); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestDir_DecodeKeepsKnownID(t *testing.T) {
	ctx := context.Background()
	d, root := tempDir(t, NamingTitle)
	_ = d.SaveOne(ctx, note("uuid-1", "Some Title", "v1"))

	_ = os.WriteFile(filepath.Join(root, "some-title.md"), []byte("# Some Title\n\nv2"), 0o644)
	n, err := d.Decode("some-title.md")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n.ID != "uuid-1" || n.Content != "v2" {
		t.Errorf("decoded = %+v", n)
	}
	if id, ok := d.Release("some-title.md"); !ok || id != "uuid-1" {
		t.Errorf("Release = %q, %v", id, ok)
	}
}

func TestNewDir_Unsupported(t *testing.T) {
	_, err := NewDir(filepath.Join(t.TempDir(), "missing"), NamingID, quietLogger())
	if !errors.Is(err, apperr.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]string)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(root, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		out[e.Name()] = string(data)
	}
	return out
}
