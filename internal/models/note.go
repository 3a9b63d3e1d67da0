// Package models defines the domain types for Zettel.
package models

import (
	"slices"
	"time"
)

// Note is a single Zettelkasten note. Tags and Links are derived from Content
// and must never be edited directly.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	Links     []string  `json:"links"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy of n that shares no slices with it.
func (n Note) Clone() Note {
	n.Tags = slices.Clone(n.Tags)
	n.Links = slices.Clone(n.Links)
	return n
}

// GraphNode is a vertex of the link graph.
type GraphNode struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

// GraphLink is a directed edge between two notes whose target resolved by title.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
