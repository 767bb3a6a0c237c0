package rag

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/config"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/models"
	"pdf-rag/internal/ragerr"
)

const skyText = "The sky is blue. Grass is green."

// fakeLLM records every prompt and answers with a fixed reply.
type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := messages[len(messages)-1]
	f.prompts = append(f.prompts, last.Parts[0].(llms.TextContent).Text)
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// poisonEmbedder fails on any text containing marker.
type poisonEmbedder struct {
	embedding.Embedder
	marker string
}

func (p *poisonEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, p.marker) {
			return nil, ragerr.Embedding("test.Embed", errors.New("model rejected input"))
		}
	}
	return p.Embedder.Embed(ctx, texts)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RAG.ChunkSize = 20
	cfg.RAG.ChunkOverlap = 5
	cfg.RAG.TopK = 1
	cfg.RAG.MaxContextChars = 200
	cfg.RAG.EmbedBatchSize = 1
	return cfg
}

func newSession(t *testing.T, cfg *config.Config, embedder embedding.Embedder, llm *fakeLLM) (*Session, *chromemdb.Store) {
	t.Helper()
	store, err := chromemdb.NewStore(chromemdb.Options{Collection: "test", InMemory: true}, embedder.ModelID())
	require.NoError(t, err)
	s, err := NewSession(cfg, embedder, store, llm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, store
}

func count(t *testing.T, store *chromemdb.Store) int {
	t.Helper()
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestIngestSkyDocument(t *testing.T) {
	s, store := newSession(t, testConfig(), embedding.NewHashEmbedder(0, 0), &fakeLLM{})

	reports := s.Ingest(context.Background(), models.Document{ID: "sky.pdf", Pages: []string{skyText}})
	require.Len(t, reports, 1)
	assert.Equal(t, models.IngestIndexed, reports[0].State)
	assert.NoError(t, reports[0].Err)
	assert.GreaterOrEqual(t, reports[0].Chunks, 2)
	assert.Equal(t, reports[0].Chunks, count(t, store))
}

func TestQueryAttributesTopChunk(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{reply: "<think>look at chunk 0</think>The sky is blue."}
	s, _ := newSession(t, testConfig(), embedding.NewHashEmbedder(0, 0), llm)
	s.Ingest(ctx, models.Document{ID: "sky.pdf", Pages: []string{skyText}})

	result, err := s.Retriever().Retrieve(ctx, "What color is the sky?", 1)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Contains(t, result[0].Record.Content, "sky is blue")

	turn, err := s.Query(ctx, "What color is the sky?")
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.", turn.Answer)
	require.Len(t, turn.Sources, 1)
	assert.Equal(t, "sky.pdf", turn.Sources[0].DocumentID)
	assert.Equal(t, result[0].Record.ChunkIndex, turn.Sources[0].ChunkIndex)
	assert.Equal(t, 1, turn.Sources[0].PageNumber)
	assert.InDelta(t, result[0].Score, turn.Confidence, 1e-9)
	assert.NotEmpty(t, turn.ID)

	require.Equal(t, 1, llm.calls())
	assert.Contains(t, llm.prompts[0], "The sky is blue. Gra")
	assert.Contains(t, llm.prompts[0], "What color is the sky?")
}

func TestIngestIsolatesFailedDocument(t *testing.T) {
	ctx := context.Background()
	embedder := &poisonEmbedder{Embedder: embedding.NewHashEmbedder(0, 0), marker: "\x00"}
	s, store := newSession(t, testConfig(), embedder, &fakeLLM{reply: "blue"})

	// the marker sits in the second chunk so the first batch succeeds
	broken := models.Document{ID: "broken.pdf", Pages: []string{"clean opening text..\x00 corrupted tail"}}
	good := models.Document{ID: "sky.pdf", Pages: []string{skyText}}
	reports := s.Ingest(ctx, broken, good)

	require.Len(t, reports, 2)
	assert.Equal(t, "broken.pdf", reports[0].DocumentID)
	assert.Equal(t, models.IngestFailed, reports[0].State)
	assert.ErrorIs(t, reports[0].Err, ragerr.ErrEmbedding)
	assert.Equal(t, models.IngestIndexed, reports[1].State)

	assert.Equal(t, reports[1].Chunks, count(t, store))
	result, err := s.Retriever().Retrieve(ctx, "What color is the sky?", 5)
	require.NoError(t, err)
	require.NotEmpty(t, result)
	for _, r := range result {
		assert.Equal(t, "sky.pdf", r.Record.DocumentID)
	}

	docs := s.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "broken.pdf", docs[0].DocumentID)
	assert.Equal(t, models.IngestFailed, docs[0].State)
}

func TestIngestEmptyDocumentFails(t *testing.T) {
	s, _ := newSession(t, testConfig(), embedding.NewHashEmbedder(0, 0), &fakeLLM{})
	reports := s.Ingest(context.Background(),
		models.Document{ID: "scan.pdf", Pages: []string{"", " \n "}},
		models.Document{Pages: []string{skyText}},
	)
	assert.ErrorIs(t, reports[0].Err, models.ErrEmptyDocument)
	assert.Equal(t, models.IngestFailed, reports[0].State)
	assert.ErrorIs(t, reports[1].Err, ragerr.ErrConfig)
}

func TestReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, store := newSession(t, testConfig(), embedding.NewHashEmbedder(0, 0), &fakeLLM{})
	doc := models.Document{ID: "sky.pdf", Pages: []string{skyText}}

	first := s.Ingest(ctx, doc)
	n := count(t, store)
	second := s.Ingest(ctx, doc)
	assert.Equal(t, first[0].Chunks, second[0].Chunks)
	assert.Equal(t, n, count(t, store))

	shorter := models.Document{ID: "sky.pdf", Pages: []string{"The sky is blue."}}
	reports := s.Ingest(ctx, shorter)
	assert.Equal(t, 1, reports[0].Chunks)
	assert.Equal(t, 1, count(t, store))
}

func TestQueryAfterResetAnswersWithoutContext(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{reply: "blue"}
	s, store := newSession(t, testConfig(), embedding.NewHashEmbedder(0, 0), llm)
	s.Ingest(ctx, models.Document{ID: "sky.pdf", Pages: []string{skyText}})
	_, err := s.Query(ctx, "What color is the sky?")
	require.NoError(t, err)
	require.Len(t, s.History(), 1)

	require.NoError(t, s.Reset(ctx))
	assert.Zero(t, count(t, store))
	assert.Empty(t, s.History())
	assert.Empty(t, s.Documents())

	result, err := s.Retriever().Retrieve(ctx, "What color is the sky?", 3)
	require.NoError(t, err)
	assert.Empty(t, result)

	turn, err := s.Query(ctx, "What color is the sky?")
	require.NoError(t, err)
	assert.Equal(t, models.NoContextAnswer, turn.Answer)
	assert.Empty(t, turn.Sources)
	assert.Zero(t, turn.Confidence)
	assert.Equal(t, 1, llm.calls(), "no model call without context")
}

func TestQueryWithoutContextCanAskModel(t *testing.T) {
	cfg := testConfig()
	cfg.RAG.AnswerWithoutContext = true
	llm := &fakeLLM{reply: "Usually blue, but your documents do not say."}
	s, _ := newSession(t, cfg, embedding.NewHashEmbedder(0, 0), llm)

	turn, err := s.Query(context.Background(), "What color is the sky?")
	require.NoError(t, err)
	assert.Equal(t, llm.reply, turn.Answer)
	assert.Empty(t, turn.Sources)
	require.Equal(t, 1, llm.calls())
	assert.NotContains(t, llm.prompts[0], "Context:")
}

func TestThresholdExcludesWeakMatches(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.RAG.SimilarityThreshold = 0.99
	s, _ := newSession(t, cfg, embedding.NewHashEmbedder(0, 0), &fakeLLM{})
	s.Ingest(ctx, models.Document{ID: "sky.pdf", Pages: []string{skyText}})

	result, err := s.Retriever().Retrieve(ctx, "What color is the sky?", 3)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Empty(t, result)
}

func TestQueryFailureLeavesHistory(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{err: errors.New("model offline")}
	s, _ := newSession(t, testConfig(), embedding.NewHashEmbedder(0, 0), llm)
	s.Ingest(ctx, models.Document{ID: "sky.pdf", Pages: []string{skyText}})

	_, err := s.Query(ctx, "What color is the sky?")
	assert.ErrorIs(t, err, ragerr.ErrGeneration)
	assert.Empty(t, s.History())

	_, err = s.Query(ctx, "   ")
	assert.ErrorIs(t, err, ragerr.ErrConfig)
}

func TestRetrieveRejectsNonPositiveK(t *testing.T) {
	s, _ := newSession(t, testConfig(), embedding.NewHashEmbedder(0, 0), &fakeLLM{})
	_, err := s.Retriever().Retrieve(context.Background(), "sky", 0)
	assert.ErrorIs(t, err, ragerr.ErrConfig)
}

func TestRetrieveFromScopesToDocument(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t, testConfig(), embedding.NewHashEmbedder(0, 0), &fakeLLM{})
	s.Ingest(ctx,
		models.Document{ID: "sky.pdf", Pages: []string{skyText}},
		models.Document{ID: "sea.pdf", Pages: []string{"The sea is blue as the sky."}},
	)

	result, err := s.Retriever().RetrieveFrom(ctx, "What color is the sky?", 5, "sea.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, result)
	for _, r := range result {
		assert.Equal(t, "sea.pdf", r.Record.DocumentID)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession(t, testConfig(), embedding.NewHashEmbedder(0, 0), &fakeLLM{reply: "blue"})
	s.Ingest(ctx, models.Document{ID: "sky.pdf", Pages: []string{skyText}})

	first, err := s.Query(ctx, "What color is the sky?")
	require.NoError(t, err)
	_, err = s.Query(ctx, "What color is the grass?")
	require.NoError(t, err)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.NotEqual(t, history[0].ID, history[1].ID)

	history[0].Answer = "changed"
	assert.Equal(t, "blue", s.History()[0].Answer)
}

func TestNewSessionRequiresCollaborators(t *testing.T) {
	_, err := NewSession(config.Default(), nil, nil, nil)
	assert.ErrorIs(t, err, ragerr.ErrConfig)
}

func TestQueryIDFailureIsLoggedAndNotRecorded(t *testing.T) {
	var buf bytes.Buffer
	logger, level := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer func() {
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	}()

	ctx := context.Background()
	s, _ := newSession(t, testConfig(), embedding.NewHashEmbedder(0, 0), &fakeLLM{reply: "blue"})
	s.Ingest(ctx, models.Document{ID: "sky.pdf", Pages: []string{skyText}})
	s.newID = func() (string, error) { return "", errors.New("entropy exhausted") }

	_, err := s.Query(ctx, "What color is the sky?")
	require.Error(t, err)
	assert.Empty(t, s.History())
	assert.Contains(t, buf.String(), `"state":"failed"`)
	assert.NotContains(t, buf.String(), `"state":"answered"`)
}
