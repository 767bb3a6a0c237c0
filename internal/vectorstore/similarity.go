package vectorstore

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"pdf-rag/internal/models"
	"pdf-rag/internal/ragerr"
)

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors must
// have the same length; a zero vector has similarity 0 with everything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions differ: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// CheckVector rejects vectors that cannot be compared by cosine similarity.
func CheckVector(op string, vec []float32, dim int) error {
	if len(vec) == 0 {
		return ragerr.Embedding(op, errors.New("empty vector"))
	}
	if dim > 0 && len(vec) != dim {
		return ragerr.Config(op, fmt.Errorf("vector has dimension %d, collection holds %d", len(vec), dim))
	}
	var norm float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ragerr.Embedding(op, errors.New("vector has non-finite components"))
		}
		norm += f * f
	}
	if norm == 0 {
		return ragerr.Embedding(op, errors.New("zero vector"))
	}
	return nil
}

// CheckBatch validates a batch of records against the collection dimension
// (0 when unknown) and returns the batch dimension.
func CheckBatch(op string, records []models.VectorRecord, dim int) (int, error) {
	for _, r := range records {
		if r.ID == "" {
			return 0, ragerr.Configf(op, "record without id")
		}
		if err := CheckVector(op, r.Embedding, dim); err != nil {
			return 0, err
		}
		dim = len(r.Embedding)
	}
	return dim, nil
}

// Rank sorts results by descending score, then ascending chunk index, then
// document id, and keeps the first k.
func Rank(results models.RetrievalResult, k int) models.RetrievalResult {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Record.ChunkIndex != b.Record.ChunkIndex {
			return a.Record.ChunkIndex < b.Record.ChunkIndex
		}
		return a.Record.DocumentID < b.Record.DocumentID
	})
	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// Normalize returns vec scaled to unit length. Zero vectors are returned
// unchanged.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if norm == 0 {
		copy(out, vec)
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
