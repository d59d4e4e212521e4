// Package model provides data models for the compliance RAG service.
package model

// Document is one loaded unit of source text: a whole plain-text file or a single PDF page.
type Document struct {
	// Source is the path relative to the documents directory, slash separated.
	Source string `json:"source"`
	// Page is the 1-based PDF page number, 0 for plain text.
	Page    int    `json:"page"`
	Content string `json:"content"`
}

// Chunk represents an immutable piece of a document stored in the index.
// IDs are assigned in insertion order starting at 0 for every build.
type Chunk struct {
	ID     int64  `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
	Page   int    `json:"page,omitempty"`
}

// ScoredChunk is a chunk returned by a similarity search.
type ScoredChunk struct {
	*Chunk
	Score float32 `json:"score"`
}

// QueryResult represents the final state of an answered question.
type QueryResult struct {
	Generation string   `json:"generation"`
	Documents  []*Chunk `json:"documents"`
}
