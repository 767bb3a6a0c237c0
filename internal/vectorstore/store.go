package vectorstore

import (
	"context"

	"pdf-rag/internal/models"
)

// Store persists vector records of one collection and answers similarity
// queries. Upsert, Replace and Reset are atomic for readers: a concurrent
// Query sees either none or all of a batch.
type Store interface {
	// Upsert inserts records, replacing any record with the same id.
	Upsert(ctx context.Context, records []models.VectorRecord) error
	// Replace swaps every record of documentID for records.
	Replace(ctx context.Context, documentID string, records []models.VectorRecord) error
	// Query returns up to k records by descending cosine similarity, ties
	// broken by ascending chunk index then document id. k <= 0 is a
	// ConfigError.
	Query(ctx context.Context, vector []float32, k int, opts ...QueryOption) (models.RetrievalResult, error)
	Count(ctx context.Context) (int, error)
	// Reset deletes every record of the collection.
	Reset(ctx context.Context) error
	Close() error
}

// QueryOptions narrows a query.
type QueryOptions struct {
	DocumentID string
}

type QueryOption func(*QueryOptions)

// WithDocument restricts a query to the records of one document.
func WithDocument(documentID string) QueryOption {
	return func(o *QueryOptions) {
		o.DocumentID = documentID
	}
}

func ApplyQueryOptions(opts []QueryOption) QueryOptions {
	var o QueryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
