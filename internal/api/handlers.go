package api

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/checksum"
	"github.com/starford/zettel/internal/mdcodec"
	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/notes"
	"github.com/starford/zettel/internal/storage"
	"github.com/starford/zettel/internal/transfer"
)

// Handler holds API route handlers.
type Handler struct {
	repo *notes.Repository

	authEnabled bool
	token       string
	events      http.Handler
	onDirectory func(*storage.Dir)
	naming      storage.Naming
	now         func() time.Time
}

// NewHandler creates a Handler over repo.
func NewHandler(repo *notes.Repository, opts ...RouterOption) *Handler {
	h := &Handler{repo: repo, naming: storage.NamingID, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func detail(n models.Note, err error) NoteDetail {
	d := NoteDetail{Note: n, Checksum: notes.Checksum(n)}
	if msg, ok := warning(err); ok {
		d.Warning = msg
	}
	return d
}

// writeMutation answers a change that succeeded in memory. A persistence
// failure downgrades the status to 202 and carries a warning.
func writeMutation(w http.ResponseWriter, status int, n models.Note, err error) {
	d := detail(n, err)
	if d.Warning != "" {
		status = http.StatusAccepted
	}
	w.Header().Set("ETag", checksum.ETag(mdcodec.Encode(n)))
	writeJSON(w, status, d)
}

// ListNotes handles GET /api/notes.
//
//	@Summary	List every note in collection order
//	@Tags		notes
//	@Produce	json
//	@Success	200	{object}	NoteListResponse
//	@Router		/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, _ *http.Request) {
	all := h.repo.List()
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: all, Total: len(all)})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary	Get a note by id
//	@Tags		notes
//	@Produce	json
//	@Param		id	path		string	true	"Note id"
//	@Success	200	{object}	NoteDetail
//	@Failure	404	{object}	errResponse
//	@Router		/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(mdcodec.Encode(n)))
	writeJSON(w, http.StatusOK, detail(n, nil))
}

// CreateNote handles POST /api/notes.
//
//	@Summary	Create a note
//	@Tags		notes
//	@Accept		json
//	@Produce	json
//	@Param		body	body		NoteRequest	true	"Note to create"
//	@Success	201		{object}	NoteDetail
//	@Success	202		{object}	NoteDetail	"Created in memory, backend write failed"
//	@Failure	400		{object}	errResponse
//	@Router		/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := h.repo.Create(r.Context(), req.Title, req.Content)
	if _, soft := warning(err); err != nil && !soft {
		writeError(w, "create note", err)
		return
	}
	writeMutation(w, http.StatusCreated, n, err)
}

// UpdateNote handles PUT /api/notes/{id}. An If-Match header must equal the
// note's current checksum.
//
//	@Summary	Update a note
//	@Tags		notes
//	@Accept		json
//	@Produce	json
//	@Param		id			path		string		true	"Note id"
//	@Param		If-Match	header		string		false	"Checksum from a previous read"
//	@Param		body		body		NoteRequest	true	"New title and content"
//	@Success	200			{object}	NoteDetail
//	@Failure	404			{object}	errResponse
//	@Failure	409			{object}	errResponse
//	@Router		/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sum := strings.Trim(r.Header.Get("If-Match"), `"`)
	n, err := h.repo.UpdateIfMatch(r.Context(), chi.URLParam(r, "id"), sum, req.Title, req.Content)
	if _, soft := warning(err); err != nil && !soft {
		writeError(w, "update note", err)
		return
	}
	writeMutation(w, http.StatusOK, n, err)
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary	Delete a note
//	@Tags		notes
//	@Param		id	path	string	true	"Note id"
//	@Success	204	"Deleted"
//	@Success	202	{object}	CountResponse	"Removed from memory, backend delete failed"
//	@Failure	404	{object}	errResponse
//	@Router		/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	err := h.repo.Delete(r.Context(), chi.URLParam(r, "id"))
	if msg, soft := warning(err); soft {
		writeJSON(w, http.StatusAccepted, CountResponse{Count: 1, Warning: msg})
		return
	}
	if err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backlinks handles GET /api/notes/{id}/backlinks.
//
//	@Summary	List notes linking to a note's title
//	@Tags		links
//	@Produce	json
//	@Param		id	path		string	true	"Note ID"
//	@Success	200	{object}	NoteListResponse
//	@Failure	404	{object}	errResponse
//	@Router		/notes/{id}/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	back := h.repo.Backlinks(n.Title)
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: back, Total: len(back)})
}

// SaveDraft handles POST /api/drafts/{id}, turning a draft staged by
// /follow into a real note.
//
//	@Summary	Save a staged draft as a note
//	@Tags		links
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string			true	"Draft ID"
//	@Param		body	body		DraftRequest	true	"Draft content"
//	@Success	201		{object}	NoteDetail
//	@Success	202		{object}	NoteDetail	"Saved in memory, backend write failed"
//	@Failure	404		{object}	errResponse
//	@Router		/drafts/{id} [post]
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := h.repo.SaveDraft(r.Context(), chi.URLParam(r, "id"), req.Content)
	if _, soft := warning(err); err != nil && !soft {
		writeError(w, "save draft", err)
		return
	}
	writeMutation(w, http.StatusCreated, n, err)
}

// Resolve handles GET /api/resolve?title=.
//
//	@Summary	Find a note by exact title
//	@Tags		links
//	@Produce	json
//	@Param		title	query		string	true	"Link text"
//	@Success	200		{object}	NoteDetail
//	@Failure	404		{object}	errResponse
//	@Router		/resolve [get]
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'title' is required"))
		return
	}
	n, ok := h.repo.ResolveLink(title)
	if !ok {
		writeError(w, "resolve", apperr.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, detail(n, nil))
}

// Follow handles POST /api/follow. An unresolved link stages a draft.
//
//	@Summary	Follow a [[link]] by title
//	@Tags		links
//	@Accept		json
//	@Produce	json
//	@Param		body	body		FollowRequest	true	"Link title"
//	@Success	200		{object}	FollowResponse
//	@Failure	400		{object}	errResponse
//	@Router		/follow [post]
func (h *Handler) Follow(w http.ResponseWriter, r *http.Request) {
	var req FollowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, ok := h.repo.Follow(req.Title)
	writeJSON(w, http.StatusOK, FollowResponse{Note: n, Resolved: ok})
}

// Search handles GET /api/search?q=. An empty query lists everything.
//
//	@Summary	Case-insensitive search over titles, content and tags
//	@Tags		search
//	@Produce	json
//	@Param		q	query		string	false	"Search term"
//	@Success	200	{object}	NoteListResponse
//	@Router		/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	hits := h.repo.Search(r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: hits, Total: len(hits)})
}

// Graph handles GET /api/graph.
//
//	@Summary	Notes as nodes and resolved links as edges
//	@Tags		links
//	@Produce	json
//	@Success	200	{object}	GraphResponse
//	@Router		/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, _ *http.Request) {
	nodes, links := h.repo.Graph()
	writeJSON(w, http.StatusOK, GraphResponse{Nodes: nodes, Links: links})
}

// GetSelection handles GET /api/selection.
//
//	@Summary	Current note or draft
//	@Tags		selection
//	@Produce	json
//	@Success	200	{object}	NoteDetail
//	@Failure	404	{object}	errResponse
//	@Router		/selection [get]
func (h *Handler) GetSelection(w http.ResponseWriter, _ *http.Request) {
	n, ok := h.repo.Selected()
	if !ok {
		writeError(w, "selection", apperr.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, detail(n, nil))
}

// PutSelection handles PUT /api/selection.
//
//	@Summary	Select a note or draft
//	@Tags		selection
//	@Accept		json
//	@Produce	json
//	@Param		body	body		SelectionRequest	true	"Note ID"
//	@Success	200		{object}	NoteDetail
//	@Failure	404		{object}	errResponse
//	@Router		/selection [put]
func (h *Handler) PutSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.repo.Select(req.ID); err != nil {
		writeError(w, "select", err)
		return
	}
	h.GetSelection(w, r)
}

// ClearSelection handles DELETE /api/selection.
//
//	@Summary	Clear the selection
//	@Tags		selection
//	@Success	204
//	@Router		/selection [delete]
func (h *Handler) ClearSelection(w http.ResponseWriter, _ *http.Request) {
	h.repo.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/status.
//
//	@Summary	Active backend and latest status message
//	@Tags		storage
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Router		/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	st := h.repo.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		Backend: h.repo.Backend(),
		Root:    h.repo.Root(),
		Level:   st.Level,
		Message: st.Message,
	})
}

// GrantDirectory handles POST /api/directory.
//
//	@Summary	Switch storage to a directory of Markdown files
//	@Tags		storage
//	@Accept		json
//	@Produce	json
//	@Param		body	body		DirectoryRequest	true	"Directory to use"
//	@Success	200		{object}	StatusResponse
//	@Failure	400		{object}	errResponse	"Selection cancelled"
//	@Failure	422		{object}	errResponse	"Directory cannot hold notes"
//	@Router		/directory [post]
func (h *Handler) GrantDirectory(w http.ResponseWriter, r *http.Request) {
	var req DirectoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	naming := h.naming
	if req.Naming != "" {
		naming = storage.Naming(req.Naming)
	}
	dir, err := h.repo.GrantDirectory(r.Context(), req.Path, naming)
	if err != nil {
		writeError(w, "grant directory", err)
		return
	}
	if h.onDirectory != nil {
		h.onDirectory(dir)
	}
	h.Status(w, r)
}

// SaveAll handles POST /api/save-all.
//
//	@Summary	Write every note to the active backend
//	@Tags		storage
//	@Produce	json
//	@Success	200	{object}	CountResponse
//	@Success	202	{object}	CountResponse	"Some notes failed to save"
//	@Router		/save-all [post]
func (h *Handler) SaveAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.SaveAll(r.Context())
	if msg, soft := warning(err); soft {
		writeJSON(w, http.StatusAccepted, CountResponse{Count: n, Warning: msg})
		return
	}
	if err != nil {
		writeError(w, "save all", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// Export handles GET /api/export/{format} as a file download.
//
//	@Summary	Download every note
//	@Tags		transfer
//	@Param		format	path	string	true	"Export format"	Enums(json, markdown)
//	@Success	200
//	@Router		/export/{format} [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")
	all := h.repo.List()

	var buf bytes.Buffer
	var err error
	switch format {
	case transfer.FormatJSON:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		err = transfer.ExportJSON(&buf, all)
	case transfer.FormatMarkdown:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		err = transfer.ExportMarkdown(&buf, all)
	default:
		writeJSON(w, http.StatusNotFound, errorBody("unknown export format"))
		return
	}
	if err != nil {
		writeError(w, "export", err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+transfer.Filename(format, h.now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Import handles POST /api/import. The body is a JSON array as produced by
// the JSON export; it replaces the whole collection.
//
//	@Summary	Replace every note from a JSON export
//	@Tags		transfer
//	@Accept		json
//	@Produce	json
//	@Success	200	{object}	CountResponse
//	@Failure	400	{object}	errResponse	"Not a JSON array of notes"
//	@Router		/import [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	imported, err := transfer.ImportJSON(r.Body, h.now())
	if err != nil {
		writeError(w, "import", err)
		return
	}
	n, err := h.repo.ReplaceAll(r.Context(), imported)
	if msg, soft := warning(err); soft {
		writeJSON(w, http.StatusAccepted, CountResponse{Count: len(imported), Warning: msg})
		return
	}
	if err != nil {
		writeError(w, "import", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}
