package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/zettel/internal/notes"
	"github.com/starford/zettel/internal/storage"
)

// RouterOption configures NewRouter.
type RouterOption func(*Handler)

// WithAuth enables Bearer token checks.
func WithAuth(token string) RouterOption {
	return func(h *Handler) {
		h.authEnabled = true
		h.token = token
	}
}

// WithEventStream mounts an SSE handler at GET /events.
func WithEventStream(sse http.Handler) RouterOption {
	return func(h *Handler) { h.events = sse }
}

// WithDirectoryHook is called after POST /directory switched storage.
func WithDirectoryHook(fn func(*storage.Dir)) RouterOption {
	return func(h *Handler) { h.onDirectory = fn }
}

// WithNaming sets the file naming used when a request does not pick one.
func WithNaming(n storage.Naming) RouterOption {
	return func(h *Handler) { h.naming = n }
}

// NewRouter returns the routes served under /api.
func NewRouter(repo *notes.Repository, opts ...RouterOption) chi.Router {
	h := NewHandler(repo, opts...)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(h.authEnabled, h.token))

	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Put("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)
	r.Get("/notes/{id}/backlinks", h.Backlinks)
	r.Post("/drafts/{id}", h.SaveDraft)

	r.Get("/resolve", h.Resolve)
	r.Post("/follow", h.Follow)
	r.Get("/search", h.Search)
	r.Get("/graph", h.Graph)

	r.Get("/selection", h.GetSelection)
	r.Put("/selection", h.PutSelection)
	r.Delete("/selection", h.ClearSelection)

	r.Get("/status", h.Status)
	r.Post("/directory", h.GrantDirectory)
	r.Post("/save-all", h.SaveAll)

	r.Get("/export/{format}", h.Export)
	r.Post("/import", h.Import)

	if h.events != nil {
		r.Get("/events", h.events.ServeHTTP)
	}
	return r
}
