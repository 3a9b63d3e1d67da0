// Package internal wires configuration, storage and the served surfaces
// together.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/zettel/internal/api"
	"github.com/starford/zettel/internal/mcpserver"
	"github.com/starford/zettel/internal/notes"
	"github.com/starford/zettel/internal/sse"
	"github.com/starford/zettel/internal/storage"
	"github.com/starford/zettel/internal/watch"
)

var errConfigRequired = errors.New("config is required")

// NewLogger builds the JSON logger. With a log file configured, output goes
// to a size-rotated file; otherwise to fallback.
func NewLogger(cfg ApplicationConfig, fallback io.Writer) *slog.Logger {
	out := fallback
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  50,
			MaxAge:   14,
			Compress: true,
		}
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

// Session is an opened repository plus the resources backing it.
type Session struct {
	Repo *notes.Repository
	// Dir is the directory backend granted at startup, if any.
	Dir *storage.Dir
	kv  *storage.KV
}

// Close releases the key-value store.
func (s *Session) Close() error {
	return s.kv.Close()
}

// OpenSession opens the key-value store, loads it, and switches to the
// configured directory when there is one. A directory that cannot be used
// is logged and the key-value store stays active.
func OpenSession(ctx context.Context, cfg *Config, logger *slog.Logger, events notes.Events) (*Session, error) {
	kv, err := storage.OpenKV(cfg.KV.Path)
	if err != nil {
		return nil, fmt.Errorf("init kv: %w", err)
	}

	opts := []notes.Option{notes.WithLogger(logger)}
	if events != nil {
		opts = append(opts, notes.WithEvents(events))
	}
	repo := notes.New(kv, opts...)
	if err := repo.Open(ctx); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("load notes: %w", err)
	}

	s := &Session{Repo: repo, kv: kv}
	if cfg.Directory.Path != "" {
		dir, err := repo.GrantDirectory(ctx, cfg.Directory.Path, cfg.Directory.Naming)
		if err != nil {
			logger.Warn("directory unavailable, using kv",
				slog.String("path", cfg.Directory.Path),
				slog.String("error", err.Error()))
		} else {
			s.Dir = dir
		}
	}
	return s, nil
}

// watchers runs at most one directory watcher, replacing it when another
// directory is granted.
type watchers struct {
	ctx    context.Context
	g      *errgroup.Group
	repo   *notes.Repository
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (w *watchers) start(dir *storage.Dir) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	ctx, cancel := context.WithCancel(w.ctx)
	w.cancel = cancel
	w.g.Go(func() error {
		if err := watch.Run(ctx, dir, w.repo, w.logger); err != nil {
			w.logger.Warn("watcher failed", slog.String("root", dir.Root()), slog.String("error", err.Error()))
		}
		return nil
	})
}

// Run serves the REST API and event stream until ctx is cancelled or a
// shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	if app.logOut == nil {
		app.logOut = os.Stdout
	}

	logger := NewLogger(cfg.App, app.logOut)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("kv_path", cfg.KV.Path),
		slog.String("directory", cfg.Directory.Path),
		slog.String("naming", string(cfg.Directory.Naming)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	sess, err := OpenSession(ctx, cfg, logger, broker)
	if err != nil {
		return err
	}
	defer sess.Close()

	g, gCtx := errgroup.WithContext(ctx)
	ws := &watchers{ctx: gCtx, g: g, repo: sess.Repo, logger: logger}
	if sess.Dir != nil && cfg.Directory.Watch {
		ws.start(sess.Dir)
	}

	routerOpts := []api.RouterOption{
		api.WithEventStream(broker),
		api.WithNaming(cfg.Directory.Naming),
	}
	if cfg.Auth.AuthEnabled() {
		routerOpts = append(routerOpts, api.WithAuth(cfg.Auth.Token))
	}
	if cfg.Directory.Watch {
		routerOpts = append(routerOpts, api.WithDirectoryHook(ws.start))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","backend":%q}`, sess.Repo.Backend())
	})

	r.Mount("/api", api.NewRouter(sess.Repo, routerOpts...))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// SSE streams only end when their clients go away.
		broker.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so watchers stop with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout. Logs never go to stdout here.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	if app.logOut == nil {
		app.logOut = os.Stderr
	}
	logger := NewLogger(app.config.App, app.logOut)
	slog.SetDefault(logger)

	sess, err := OpenSession(ctx, app.config, logger, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	logger.Info("MCP server starting", slog.String("backend", sess.Repo.Backend()))
	return mcpserver.New(sess.Repo, app.version).ServeStdio()
}
