package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const defaultHashDimension = 384

// HashEmbedder is a deterministic bag-of-words embedder: each lower-cased
// word is hashed into one of dim buckets and the counts are L2-normalized.
// It needs no model server and keeps cosine similarity meaningful for
// lexical overlap.
type HashEmbedder struct {
	dim           int
	maxInputChars int
}

func NewHashEmbedder(dim, maxInputChars int) *HashEmbedder {
	if dim <= 0 {
		dim = defaultHashDimension
	}
	return &HashEmbedder{dim: dim, maxInputChars: maxInputChars}
}

func (e *HashEmbedder) ModelID() string    { return fmt.Sprintf("hash-%d", e.dim) }
func (e *HashEmbedder) MaxInputChars() int { return e.maxInputChars }

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := CheckInputLength(texts, e.maxInputChars); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		vec[xxhash.Sum64String(w)%uint64(e.dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// no words: a uniform vector keeps the cosine defined
		for i := range vec {
			vec[i] = 1
		}
		norm = float64(e.dim)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
