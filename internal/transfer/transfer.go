// Package transfer moves whole note collections in and out of downloadable
// files, independent of the active storage backend.
package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/starford/zettel/internal/annotate"
	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/mdcodec"
	"github.com/starford/zettel/internal/models"
)

// MarkdownSeparator sits between notes in a combined Markdown export.
const MarkdownSeparator = "\n\n---\n\n"

// Export formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// ExportJSON writes notes as an indented JSON array.
func ExportJSON(w io.Writer, notes []models.Note) error {
	if notes == nil {
		notes = []models.Note{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(notes); err != nil {
		return fmt.Errorf("transfer: export json: %w", err)
	}
	return nil
}

// ExportMarkdown writes every note in its Markdown form, separated by a
// horizontal rule.
func ExportMarkdown(w io.Writer, notes []models.Note) error {
	for i, n := range notes {
		if i > 0 {
			if _, err := io.WriteString(w, MarkdownSeparator); err != nil {
				return fmt.Errorf("transfer: export markdown: %w", err)
			}
		}
		if _, err := w.Write(mdcodec.Encode(n)); err != nil {
			return fmt.Errorf("transfer: export markdown: %w", err)
		}
	}
	return nil
}

// ImportJSON reads an exported JSON array. Anything whose top level is not an
// array fails with apperr.ErrMalformedImport and yields no notes.
//
// Notes without an id get a fresh one, repeated ids keep their first
// occurrence, missing timestamps become now, and tags and links are derived
// again from content.
func ImportJSON(r io.Reader, now time.Time) ([]models.Note, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("transfer: import: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("transfer: import: top level is not an array: %w", apperr.ErrMalformedImport)
	}

	var raw []models.Note
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("transfer: import: %w: %w", apperr.ErrMalformedImport, err)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]models.Note, 0, len(raw))
	for _, n := range raw {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if n.UpdatedAt.IsZero() {
			n.UpdatedAt = n.CreatedAt
		}
		out = append(out, annotate.Derive(n))
	}
	return out, nil
}

// Filename returns the suggested download name for an export.
func Filename(format string, now time.Time) string {
	ext := "json"
	if format == FormatMarkdown {
		ext = "md"
	}
	return fmt.Sprintf("zettel-export-%s.%s", now.Format("2006-01-02"), ext)
}
