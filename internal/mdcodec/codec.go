// Package mdcodec converts notes to and from single Markdown documents.
//
// A note file is the title as a level-1 heading, a blank line, and the body:
//
//	# <title>
//
//	<content>
//
// The format carries no timestamps.
package mdcodec

import (
	"strings"
	"time"
	"unicode"

	"github.com/starford/zettel/internal/annotate"
	"github.com/starford/zettel/internal/models"
)

// Ext is the extension of note files.
const Ext = ".md"

const headingPrefix = "# "

// Encode renders n as a Markdown document.
func Encode(n models.Note) []byte {
	return []byte(headingPrefix + n.Title + "\n\n" + n.Content)
}

// Decode parses a Markdown document into a note whose ID is fallbackID.
// A first line starting with "# " supplies the title and the trimmed
// remainder is the content; otherwise the whole text is the content and the
// title is fallbackID. Both timestamps are set to now.
func Decode(data []byte, fallbackID string, now time.Time) models.Note {
	text := string(data)
	n := models.Note{
		ID:        fallbackID,
		Title:     fallbackID,
		Content:   text,
		CreatedAt: now,
		UpdatedAt: now,
	}

	first, rest, _ := strings.Cut(text, "\n")
	if strings.HasPrefix(first, headingPrefix) {
		n.Title = strings.TrimSuffix(first[len(headingPrefix):], "\r")
		n.Content = strings.TrimSpace(rest)
	}

	return annotate.Derive(n)
}

// Sanitize maps a title to a filename stem: every character outside
// [A-Za-z0-9] becomes '-' and the result is lowercased. Distinct titles may
// collide ("Hello World" and "hello-world" both give "hello-world").
func Sanitize(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteByte('-')
	}
	return b.String()
}

// Stem returns name without the note file extension and whether it had one.
func Stem(name string) (string, bool) {
	if !strings.HasSuffix(name, Ext) {
		return name, false
	}
	return strings.TrimSuffix(name, Ext), true
}
