// Package watch keeps the note collection in step with edits made to a
// notes directory by other programs.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/zettel/internal/mdcodec"
	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/storage"
)

// Sink receives notes changed outside the application.
type Sink interface {
	ApplyExternal(n models.Note) (string, bool)
	ForgetExternal(id string) bool
}

// Run watches dir's root until ctx is cancelled. Created or written .md
// files are decoded and handed to sink; removed or renamed-away files are
// forgotten. Hidden files, including the store's own temp files, are
// ignored.
func Run(ctx context.Context, dir *storage.Dir, sink Sink, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir.Root()); err != nil {
		return fmt.Errorf("watch: add %s: %w", dir.Root(), err)
	}
	logger.Info("watch: started", slog.String("root", dir.Root()))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			handle(ev, dir, sink, logger)

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: error", slog.String("error", werr.Error()))
		}
	}
}

func handle(ev fsnotify.Event, dir *storage.Dir, sink Sink, logger *slog.Logger) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return
	}
	if _, ok := mdcodec.Stem(name); !ok {
		return
	}

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		n, err := dir.Decode(name)
		if err != nil {
			// Removed again before we got to it; the Remove event follows.
			logger.Debug("watch: read failed", slog.String("file", name), slog.String("error", err.Error()))
			return
		}
		if kind, changed := sink.ApplyExternal(n); changed {
			logger.Debug("watch: applied", slog.String("file", name), slog.String("op", kind), slog.String("id", n.ID))
		}

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		id, ok := dir.Release(name)
		if !ok {
			return
		}
		if sink.ForgetExternal(id) {
			logger.Debug("watch: forgot", slog.String("file", name), slog.String("id", id))
		}
	}
}
