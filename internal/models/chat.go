package models

import "time"

// Attribution links an answer to a chunk included in its context.
type Attribution struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	PageNumber int     `json:"page,omitempty"`
	Score      float64 `json:"score"`
}

// Answer is the output of the answer generator.
type Answer struct {
	Content    string        `json:"content"`
	Confidence float64       `json:"confidence"`
	Sources    []Attribution `json:"sources"`
}

// QueryState is a stage of the query flow.
type QueryState string

const (
	QueryIdle       QueryState = "idle"
	QueryRetrieving QueryState = "retrieving"
	QueryGenerating QueryState = "generating"
	QueryAnswered   QueryState = "answered"
	QueryFailed     QueryState = "failed"
)

// ChatTurn is one answered question in a session's history.
type ChatTurn struct {
	ID         string        `json:"id"`
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	Confidence float64       `json:"confidence"`
	Sources    []Attribution `json:"sources"`
	AskedAt    time.Time     `json:"asked_at"`
}
