package models

import "fmt"

// VectorRecord is the stored form of an embedded chunk.
type VectorRecord struct {
	ID         string
	Embedding  []float32
	Content    string
	DocumentID string
	ChunkIndex int
	Start      int
	End        int
	PageNumber int
}

// RecordID builds the stable id of a document's chunk.
func RecordID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkIndex)
}

// NewVectorRecord pairs a chunk with its embedding.
func NewVectorRecord(c Chunk, embedding []float32) VectorRecord {
	return VectorRecord{
		ID:         RecordID(c.DocumentID, c.Index),
		Embedding:  embedding,
		Content:    c.Content,
		DocumentID: c.DocumentID,
		ChunkIndex: c.Index,
		Start:      c.Start,
		End:        c.End,
		PageNumber: c.PageNumber,
	}
}

// ScoredRecord is a record returned by a similarity query.
type ScoredRecord struct {
	Record VectorRecord
	Score  float64
}

// RetrievalResult is ordered by descending score.
type RetrievalResult []ScoredRecord
