// Package annotate derives tags and wiki links from free-text note content.
package annotate

import (
	"regexp"

	"github.com/starford/zettel/internal/models"
)

var (
	tagRe      = regexp.MustCompile(`#(\w+)`)
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
)

// ExtractTags returns the distinct #word tokens of content without the
// leading '#', in first-occurrence order. Tags inside code spans or URLs are
// extracted as well.
func ExtractTags(content string) []string {
	return distinct(tagRe.FindAllStringSubmatch(content, -1))
}

// ExtractLinks returns the distinct [[...]] payloads of content, verbatim,
// in first-occurrence order. Nested brackets are not supported.
func ExtractLinks(content string) []string {
	return distinct(wikilinkRe.FindAllStringSubmatch(content, -1))
}

// Derive recomputes n.Tags and n.Links from n.Content.
func Derive(n models.Note) models.Note {
	n.Tags = ExtractTags(n.Content)
	n.Links = ExtractLinks(n.Content)
	return n
}

func distinct(matches [][]string) []string {
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		v := m[1]
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
