package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/storage"
)

// NoteRequest is the body of POST /api/notes and PUT /api/notes/{id}.
type NoteRequest struct {
	Title   string `json:"title" example:"Hello"`
	Content string `json:"content" example:"Some text #tag [[Other]]"`
}

// Validate implements validation.Validatable.
func (r NoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 512)),
	)
}

// DraftRequest is the body of POST /api/drafts/{id}.
type DraftRequest struct {
	Content string `json:"content"`
}

// Validate implements validation.Validatable.
func (r DraftRequest) Validate() error { return nil }

// FollowRequest is the body of POST /api/follow.
type FollowRequest struct {
	Title string `json:"title" example:"Other"`
}

// Validate implements validation.Validatable.
func (r FollowRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required),
	)
}

// SelectionRequest is the body of PUT /api/selection.
type SelectionRequest struct {
	ID string `json:"id"`
}

// Validate implements validation.Validatable.
func (r SelectionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
	)
}

// DirectoryRequest is the body of POST /api/directory. An empty path means
// the user dismissed the picker.
type DirectoryRequest struct {
	Path   string `json:"path" example:"/home/me/notes"`
	Naming string `json:"naming,omitempty" example:"id"`
}

// Validate implements validation.Validatable.
func (r DirectoryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Naming, validation.In(string(storage.NamingID), string(storage.NamingTitle))),
	)
}

// NoteDetail is a note plus its ETag checksum. Warning is set when the
// change was kept in memory but the backend failed to record it.
type NoteDetail struct {
	models.Note
	Checksum string `json:"checksum"`
	Warning  string `json:"warning,omitempty"`
}

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.Note `json:"notes"`
	Total int           `json:"total"`
}

// FollowResponse reports where a link led. Resolved is false when a new
// draft was staged.
type FollowResponse struct {
	Note     models.Note `json:"note"`
	Resolved bool        `json:"resolved"`
}

// GraphResponse wraps the note graph.
type GraphResponse struct {
	Nodes []models.GraphNode `json:"nodes"`
	Links []models.GraphLink `json:"links"`
}

// StatusResponse describes the active backend and the last status message.
type StatusResponse struct {
	Backend string `json:"backend"`
	Root    string `json:"root,omitempty"`
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// CountResponse reports a bulk outcome.
type CountResponse struct {
	Count   int    `json:"count"`
	Warning string `json:"warning,omitempty"`
}
