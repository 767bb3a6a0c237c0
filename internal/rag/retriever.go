package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/embedding"
	"pdf-rag/internal/models"
	"pdf-rag/internal/ragerr"
	"pdf-rag/internal/vectorstore"
)

// Retriever embeds a question and returns the stored chunks closest to it.
type Retriever struct {
	embedder  embedding.Embedder
	store     vectorstore.Store
	threshold float64
}

// NewRetriever returns a Retriever that drops records scoring below
// threshold. A threshold of -1 keeps every candidate.
func NewRetriever(embedder embedding.Embedder, store vectorstore.Store, threshold float64) *Retriever {
	return &Retriever{embedder: embedder, store: store, threshold: threshold}
}

// Retrieve returns up to k records ordered by descending similarity. An
// empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) (models.RetrievalResult, error) {
	return r.retrieve(ctx, "rag.Retrieve", question, k)
}

// RetrieveFrom is Retrieve restricted to the chunks of one document.
func (r *Retriever) RetrieveFrom(ctx context.Context, question string, k int, documentID string) (models.RetrievalResult, error) {
	return r.retrieve(ctx, "rag.RetrieveFrom", question, k, vectorstore.WithDocument(documentID))
}

func (r *Retriever) retrieve(ctx context.Context, op, question string, k int, opts ...vectorstore.QueryOption) (models.RetrievalResult, error) {
	if k <= 0 {
		return nil, ragerr.Configf(op, "k must be positive, got %d", k)
	}

	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, ragerr.Embedding(op, err)
	}
	if len(vectors) != 1 {
		return nil, ragerr.Embedding(op, fmt.Errorf("embedder returned %d vectors for one question", len(vectors)))
	}

	candidates, err := r.store.Query(ctx, vectors[0], k, opts...)
	if err != nil {
		if ragerr.KindOf(err) == "" {
			err = ragerr.Retrieval(op, err)
		}
		return nil, err
	}

	result := make(models.RetrievalResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Score < r.threshold {
			continue
		}
		result = append(result, c)
	}
	log.Debug().
		Int("k", k).
		Int("candidates", len(candidates)).
		Int("kept", len(result)).
		Float64("threshold", r.threshold).
		Msg("Retrieved context")
	return result, nil
}
