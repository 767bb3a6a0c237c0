package rag

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pdf-rag/internal/chunker"
	"pdf-rag/internal/config"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/ragerr"
	"pdf-rag/internal/vectorstore"
)

// Session owns the models, the vector store and the chat history of one
// user session. It is created by NewSession and released by Close.
type Session struct {
	cfg       config.RAGConfig
	embedder  embedding.Embedder
	store     vectorstore.Store
	retriever *Retriever
	generator *AnswerGenerator
	newID     func() (string, error)

	mu       sync.Mutex
	statuses map[string]models.IngestReport
	history  []models.ChatTurn
}

// NewSession wires the pipeline. cfg must already be validated; llm may be
// nil when the session is only used for ingestion.
func NewSession(cfg *config.Config, embedder embedding.Embedder, store vectorstore.Store, llm llmservice.Completer) (*Session, error) {
	if cfg == nil {
		return nil, ragerr.Configf("rag.NewSession", "config is required")
	}
	if embedder == nil || store == nil {
		return nil, ragerr.Configf("rag.NewSession", "embedder and vector store are required")
	}
	return &Session{
		cfg:       cfg.RAG,
		embedder:  embedder,
		store:     store,
		retriever: NewRetriever(embedder, store, cfg.RAG.SimilarityThreshold),
		generator: NewAnswerGenerator(llm, cfg.RAG.MaxContextChars, cfg.RAG.AnswerWithoutContext,
			llmservice.CallOptions(&cfg.InferenceLLM)...),
		newID:    helper.GenerateUUID,
		statuses: make(map[string]models.IngestReport),
	}, nil
}

// Retriever exposes the session's retriever for document-scoped queries.
func (s *Session) Retriever() *Retriever {
	return s.retriever
}

// Ingest indexes docs in parallel and returns one report per document in
// input order. A failed document does not stop the others.
func (s *Session) Ingest(ctx context.Context, docs ...models.Document) []models.IngestReport {
	reports := make([]models.IngestReport, len(docs))

	var g errgroup.Group
	g.SetLimit(max(s.cfg.IngestWorkers, 1))
	for i, doc := range docs {
		g.Go(func() error {
			reports[i] = s.ingest(ctx, doc)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (s *Session) ingest(ctx context.Context, doc models.Document) models.IngestReport {
	report := models.IngestReport{DocumentID: doc.ID}
	if doc.ID == "" {
		return s.fail(ctx, report, ragerr.Configf("rag.Ingest", "document id is required"))
	}

	s.setState(&report, models.IngestChunking)
	chunks, err := chunker.SplitDocument(doc, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		return s.fail(ctx, report, err)
	}
	if len(chunks) == 0 {
		return s.fail(ctx, report, models.ErrEmptyDocument)
	}
	report.Chunks = len(chunks)

	s.setState(&report, models.IngestEmbedding)
	records := make([]models.VectorRecord, 0, len(chunks))
	for batch := range slices.Chunk(chunks, max(s.cfg.EmbedBatchSize, 1)) {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return s.fail(ctx, report, ragerr.Embedding("rag.Ingest", err))
		}
		if len(vectors) != len(batch) {
			return s.fail(ctx, report, ragerr.Embedding("rag.Ingest",
				fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))))
		}
		for i, c := range batch {
			records = append(records, models.NewVectorRecord(c, vectors[i]))
		}
	}

	if err := s.store.Replace(ctx, doc.ID, records); err != nil {
		return s.fail(ctx, report, err)
	}
	s.setState(&report, models.IngestIndexed)
	return report
}

func (s *Session) setState(report *models.IngestReport, state models.IngestState) {
	report.State = state
	s.mu.Lock()
	s.statuses[report.DocumentID] = *report
	s.mu.Unlock()
	log.Debug().
		Str("document_id", report.DocumentID).
		Str("state", string(state)).
		Int("chunks", report.Chunks).
		Msg("Ingestion state")
}

// fail marks the document Failed and drops any chunks an earlier ingest of
// the same id left in the store.
func (s *Session) fail(ctx context.Context, report models.IngestReport, err error) models.IngestReport {
	report.State = models.IngestFailed
	report.Err = err
	log.Error().Err(err).Str("document_id", report.DocumentID).Msg("Ingestion failed")
	if report.DocumentID == "" {
		return report
	}

	if rerr := s.store.Replace(ctx, report.DocumentID, nil); rerr != nil {
		log.Warn().Err(rerr).Str("document_id", report.DocumentID).Msg("Failed to drop stale chunks")
	}
	s.mu.Lock()
	s.statuses[report.DocumentID] = report
	s.mu.Unlock()
	return report
}

// Documents returns the latest report of every document seen by the session,
// ordered by document id.
func (s *Session) Documents() []models.IngestReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.IngestReport, 0, len(s.statuses))
	for _, r := range s.statuses {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.IngestReport) int {
		return strings.Compare(a.DocumentID, b.DocumentID)
	})
	return out
}

// Query answers question from the indexed documents and records the turn in
// the chat history. A failed query leaves the history untouched.
func (s *Session) Query(ctx context.Context, question string) (*models.ChatTurn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ragerr.Configf("rag.Query", "question is empty")
	}

	logState := func(state models.QueryState) {
		log.Debug().Str("question", question).Int("k", s.cfg.TopK).Str("state", string(state)).Msg("Query state")
	}

	logState(models.QueryRetrieving)
	result, err := s.retriever.Retrieve(ctx, question, s.cfg.TopK)
	if err != nil {
		logState(models.QueryFailed)
		return nil, err
	}

	logState(models.QueryGenerating)
	answer, err := s.generator.Generate(ctx, question, result)
	if err != nil {
		logState(models.QueryFailed)
		return nil, err
	}

	id, err := s.newID()
	if err != nil {
		logState(models.QueryFailed)
		return nil, err
	}
	turn := models.ChatTurn{
		ID:         id,
		Question:   question,
		Answer:     answer.Content,
		Confidence: answer.Confidence,
		Sources:    answer.Sources,
		AskedAt:    time.Now(),
	}
	s.mu.Lock()
	s.history = append(s.history, turn)
	s.mu.Unlock()
	logState(models.QueryAnswered)
	return &turn, nil
}

// History returns a copy of the chat history, oldest first.
func (s *Session) History() []models.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Reset deletes every stored record and forgets documents and history.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.statuses = make(map[string]models.IngestReport)
	s.history = nil
	s.mu.Unlock()
	log.Info().Msg("Session reset")
	return nil
}

// Close ends the session and releases the vector store.
func (s *Session) Close() error {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	if err := s.store.Close(); err != nil {
		return ragerr.Retrieval("rag.Close", err)
	}
	return nil
}
