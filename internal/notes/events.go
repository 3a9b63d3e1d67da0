package notes

import (
	"fmt"
	"time"
)

// Note event kinds published after a change to the collection.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Status levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Status is a transient, human-readable outcome of the last operation.
type Status struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Events receives collection changes and status messages.
type Events interface {
	PublishNoteEvent(kind, id string)
	PublishStatus(level, message string)
}

type nopEvents struct{}

func (nopEvents) PublishNoteEvent(string, string) {}
func (nopEvents) PublishStatus(string, string)    {}

// PersistError reports that an in-memory change succeeded but the active
// backend failed to record it. The change is kept; the caller may retry with
// a full save.
type PersistError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("notes: %s: persist: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("notes: %s %s: persist: %v", e.Op, e.ID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
