// Package mcpserver exposes the note repository as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/zettel/internal/mdcodec"
	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/notes"
)

// FormatURI is the resource holding NoteFormatContract.
const FormatURI = "zettel://note-format"

// Server wraps the MCP server with note tools.
type Server struct {
	mcp  *server.MCPServer
	repo *notes.Repository
}

// New creates an MCP server with every tool registered.
func New(repo *notes.Repository, version string) *Server {
	s := &Server{repo: repo}

	s.mcp = server.NewMCPServer(
		"Zettel",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Case-insensitive search over note titles, content and tags. An empty query lists every note."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search term")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note in its Markdown form, by id or by exact title."),
		mcp.WithString("id", mcp.Description("Note id")),
		mcp.WithString("title", mcp.Description("Exact note title, used when id is empty")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note. Tags (#word) and links ([[Title]]) are read from the content. "+
			"See get_note_contract or the "+FormatURI+" resource first."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Note title")),
		mcp.WithString("content", mcp.Description("Note text")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace a note's title and content."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
		mcp.WithString("content", mcp.Description("New text")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List every note as id and title, one per line."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find the notes that link to the given title."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Title being linked to")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("resolve_link",
		mcp.WithDescription("Return the id of the note whose title exactly matches a [[link]]."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Link text")),
	), s.resolveLink)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Describe how notes, tags and links are written."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(FormatURI, "Note Format",
			mcp.WithResourceDescription("How titles, tags and links are written."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio serves on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type summary struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func summarize(in []models.Note) []summary {
	out := make([]summary, len(in))
	for i, n := range in {
		out[i] = summary{ID: n.ID, Title: n.Title, Tags: n.Tags}
	}
	return out
}

func optional(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return v
}

// mutationResult reports a change. A persistence failure is still a
// success for the caller since memory holds the change.
func mutationResult(text string, err error) (*mcp.CallToolResult, error) {
	var pe *notes.PersistError
	if errors.As(err, &pe) {
		return mcp.NewToolResultText(text + " (warning: " + pe.Error() + ")"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) searchNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(summarize(s.repo.Search(query)), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, title := optional(req, "id"), optional(req, "title")
	var (
		n  models.Note
		ok bool
	)
	switch {
	case id != "":
		var err error
		n, err = s.repo.Get(id)
		ok = err == nil
	case title != "":
		n, ok = s.repo.ResolveLink(title)
	default:
		return mcp.NewToolResultError("id or title is required"), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s%s", id, title)), nil
	}
	return mcp.NewToolResultText(string(mdcodec.Encode(n))), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.repo.Create(ctx, title, optional(req, "content"))
	return mutationResult("created: "+n.ID, err)
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	_, err = s.repo.Update(ctx, id, title, optional(req, "content"))
	return mutationResult("updated: "+id, err)
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mutationResult("deleted: "+id, s.repo.Delete(ctx, id))
}

func (s *Server) listNotes(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all := s.repo.List()
	if len(all) == 0 {
		return mcp.NewToolResultText("no notes"), nil
	}
	lines := make([]string, len(all))
	for i, n := range all {
		lines[i] = n.ID + "\t" + n.Title
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getBacklinks(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	back := s.repo.Backlinks(title)
	if len(back) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	titles := make([]string, len(back))
	for i, n := range back {
		titles[i] = n.Title
	}
	return mcp.NewToolResultText(strings.Join(titles, "\n")), nil
}

func (s *Server) resolveLink(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, ok := s.repo.ResolveLink(title)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no note titled %q", title)), nil
	}
	return mcp.NewToolResultText(n.ID), nil
}

func (s *Server) getNoteContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
