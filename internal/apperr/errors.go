// Package apperr defines sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrUnsupported means the requested directory cannot back a note store
	// (missing, not a directory, or not writable).
	ErrUnsupported = errors.New("directory storage unsupported")
	// ErrCancelled means the caller declined to pick a directory.
	ErrCancelled = errors.New("cancelled")
	// ErrMalformedImport means an import payload is not a JSON array of notes.
	ErrMalformedImport = errors.New("malformed import")
)
