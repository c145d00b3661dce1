package domain

import "time"

// Document represents a document entity with nested items. The nesting is
// deliberate: documents are what the demo caches, and the two item levels
// push composite shapes through the canonical codec.
type Document struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	Items     []Level1Item `json:"items"`
}

// Level1Item is a first-level section inside a document
type Level1Item struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Sort  int          `json:"sort"`
	Items []Level2Item `json:"items"`
}

// Level2Item is a leaf item carrying free-form payload data
type Level2Item struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}
