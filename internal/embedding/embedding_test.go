package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/config"
	"pdf-rag/internal/ragerr"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedderDeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(0, 0)
	assert.Equal(t, "hash-384", e.ModelID())

	v1, err := e.Embed(context.Background(), []string{"Go is great for AI.", "Go is great for AI."})
	require.NoError(t, err)
	require.Len(t, v1, 2)
	require.Len(t, v1[0], 384)
	assert.Equal(t, v1[0], v1[1])

	var norm float64
	for _, v := range v1[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestHashEmbedderRanksLexicalOverlap(t *testing.T) {
	e := NewHashEmbedder(384, 0)
	vecs, err := e.Embed(context.Background(), []string{
		"What color is the sky?",
		"The sky is blue. Gra",
		"e. Grass is green.",
	})
	require.NoError(t, err)
	assert.Greater(t, cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2]))
}

func TestHashEmbedderWithoutWords(t *testing.T) {
	e := NewHashEmbedder(16, 0)
	vecs, err := e.Embed(context.Background(), []string{"... !!"})
	require.NoError(t, err)
	for _, v := range vecs[0] {
		assert.InDelta(t, 0.25, v, 1e-6)
	}
}

func TestHashEmbedderRejectsLongInput(t *testing.T) {
	e := NewHashEmbedder(8, 10)
	_, err := e.Embed(context.Background(), []string{"short", strings.Repeat("x", 11)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.ErrEmbedding)
}

type stubEmbedder struct {
	vectors [][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	return s.vectors, s.err
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors[0], nil
}

func TestModelEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("passes vectors through", func(t *testing.T) {
		stub := &stubEmbedder{vectors: [][]float32{{1, 0}, {0, 1}}}
		e := NewModelEmbedder(stub, "ollama/all-minilm", 100)
		got, err := e.Embed(ctx, []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, stub.vectors, got)
		assert.Equal(t, "ollama/all-minilm", e.ModelID())
	})

	t.Run("model failure is an embedding error", func(t *testing.T) {
		stub := &stubEmbedder{err: errors.New("connection refused")}
		_, err := NewModelEmbedder(stub, "m", 0).Embed(ctx, []string{"a"})
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)
	})

	t.Run("count mismatch is an embedding error", func(t *testing.T) {
		stub := &stubEmbedder{vectors: [][]float32{{1}}}
		_, err := NewModelEmbedder(stub, "m", 0).Embed(ctx, []string{"a", "b"})
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)
	})

	t.Run("too long input never reaches the model", func(t *testing.T) {
		stub := &stubEmbedder{vectors: [][]float32{{1}}}
		_, err := NewModelEmbedder(stub, "m", 3).Embed(ctx, []string{"four"})
		assert.ErrorIs(t, err, ragerr.ErrEmbedding)
		assert.Zero(t, stub.calls)
	})

	t.Run("empty input", func(t *testing.T) {
		stub := &stubEmbedder{}
		got, err := NewModelEmbedder(stub, "m", 0).Embed(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Zero(t, stub.calls)
	})
}

func TestNewSelectsProvider(t *testing.T) {
	e, err := New(&config.LLMConfig{Provider: "hash", Model: "hash", Dimension: 64, MaxInputChars: 500}, 8)
	require.NoError(t, err)
	assert.Equal(t, "hash-64", e.ModelID())
	assert.Equal(t, 500, e.MaxInputChars())

	_, err = New(&config.LLMConfig{Provider: "anthropic", Model: "claude"}, 8)
	assert.ErrorIs(t, err, ragerr.ErrConfig)
}
