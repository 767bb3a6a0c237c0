package models

import "errors"

// ErrEmptyDocument is returned when a document has no extractable text.
var ErrEmptyDocument = errors.New("document contains no extractable text")

// Document is an extracted source file. Pages hold plain text in page order.
type Document struct {
	ID    string
	Pages []string
}

// Chunk is a span of a document's text. Start and End are character
// (rune) offsets into the joined document text, End exclusive.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Content    string `json:"content"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	PageNumber int    `json:"page"`
}

// IngestState is a stage of the per-document ingestion flow.
type IngestState string

const (
	IngestIdle      IngestState = "idle"
	IngestChunking  IngestState = "chunking"
	IngestEmbedding IngestState = "embedding"
	IngestIndexed   IngestState = "indexed"
	IngestFailed    IngestState = "failed"
)

// IngestReport is the outcome of ingesting one document.
type IngestReport struct {
	DocumentID string      `json:"document_id"`
	State      IngestState `json:"state"`
	Chunks     int         `json:"chunks"`
	Err        error       `json:"-"`
}
