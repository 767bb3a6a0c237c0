package embedding

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/config"
	"pdf-rag/internal/ragerr"
)

// Embedder maps texts to vectors of one fixed model, one vector per text,
// in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// ModelID identifies the model; a vector store collection is bound to it.
	ModelID() string
	// MaxInputChars is the longest accepted input, 0 when unbounded.
	MaxInputChars() int
}

// ModelEmbedder adapts a langchaingo embedder to Embedder.
type ModelEmbedder struct {
	embedder      embeddings.Embedder
	modelID       string
	maxInputChars int
}

// NewModelEmbedder wraps an existing langchaingo embedder.
func NewModelEmbedder(e embeddings.Embedder, modelID string, maxInputChars int) *ModelEmbedder {
	return &ModelEmbedder{embedder: e, modelID: modelID, maxInputChars: maxInputChars}
}

// New builds the embedder selected by cfg.
func New(cfg *config.LLMConfig, batchSize int) (Embedder, error) {
	switch cfg.Provider {
	case "hash":
		return NewHashEmbedder(cfg.Dimension, cfg.MaxInputChars), nil
	case "ollama":
		return NewOllamaEmbedder(cfg, batchSize)
	case "openai":
		return NewOpenAIEmbedder(cfg, batchSize)
	default:
		return nil, ragerr.Configf("embedding.New", "provider %q has no embedding model", cfg.Provider)
	}
}

// NewOllamaEmbedder binds an embedding model served by Ollama.
func NewOllamaEmbedder(llmConfig *config.LLMConfig, batchSize int) (*ModelEmbedder, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(llmConfig.BaseURL),
		ollama.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, ragerr.Config("embedding.NewOllamaEmbedder", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize))
	if err != nil {
		return nil, ragerr.Config("embedding.NewOllamaEmbedder", err)
	}
	return NewModelEmbedder(embedder, "ollama/"+llmConfig.Model, llmConfig.MaxInputChars), nil
}

// NewOpenAIEmbedder binds an embedding model behind an OpenAI compatible API
// such as OpenRouter.
func NewOpenAIEmbedder(llmConfig *config.LLMConfig, batchSize int) (*ModelEmbedder, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating openai embedder")

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.APIKey(), "Bearer ")),
		openai.WithModel(llmConfig.Model),
		openai.WithEmbeddingModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, ragerr.Config("embedding.NewOpenAIEmbedder", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize))
	if err != nil {
		return nil, ragerr.Config("embedding.NewOpenAIEmbedder", err)
	}
	return NewModelEmbedder(embedder, "openai/"+llmConfig.Model, llmConfig.MaxInputChars), nil
}

func (e *ModelEmbedder) ModelID() string    { return e.modelID }
func (e *ModelEmbedder) MaxInputChars() int { return e.maxInputChars }

// Embed embeds texts in one call to the model.
func (e *ModelEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := CheckInputLength(texts, e.maxInputChars); err != nil {
		return nil, err
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, ragerr.Embedding("embedding.Embed", err)
	}
	if len(vectors) != len(texts) {
		return nil, ragerr.Embedding("embedding.Embed",
			fmt.Errorf("model returned %d vectors for %d texts", len(vectors), len(texts)))
	}
	return vectors, nil
}

// CheckInputLength fails with an EmbeddingError when any text is longer than
// maxChars characters. A non-positive maxChars disables the check.
func CheckInputLength(texts []string, maxChars int) error {
	if maxChars <= 0 {
		return nil
	}
	for i, text := range texts {
		if n := utf8.RuneCountInString(text); n > maxChars {
			return ragerr.Embedding("embedding.Embed",
				fmt.Errorf("input %d has %d characters, model accepts at most %d", i, n, maxChars))
		}
	}
	return nil
}
