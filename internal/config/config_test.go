package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/ragerr"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, -1.0, cfg.RAG.SimilarityThreshold)
}

func TestLoadConfigKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := writeConfig(t, `
rag:
  chunk_size: 500
  chunk_overlap: 50
embed_llm:
  provider: hash
  model: hash-384
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, defaultTopK, cfg.RAG.TopK)
	assert.Equal(t, "hash", cfg.EmbedLLM.Provider)
	assert.Equal(t, defaultMaxInputChars, cfg.EmbedLLM.MaxInputChars)
	assert.Equal(t, "pdf_chunks", cfg.VectorStore.Collection)
}

func TestValidateRejectsBadParameters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero chunk size", func(c *Config) { c.RAG.ChunkSize = 0 }},
		{"negative overlap", func(c *Config) { c.RAG.ChunkOverlap = -1 }},
		{"overlap equals size", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }},
		{"threshold above one", func(c *Config) { c.RAG.SimilarityThreshold = 1.5 }},
		{"unknown provider", func(c *Config) { c.EmbedLLM.Provider = "bert" }},
		{"chunk larger than embedder input", func(c *Config) { c.EmbedLLM.MaxInputChars = 100 }},
		{"chunk larger than context", func(c *Config) { c.RAG.MaxContextChars = 999 }},
		{"pgvector without dsn", func(c *Config) { c.VectorStore.Type = "pgvector" }},
		{"hash generator", func(c *Config) { c.InferenceLLM.Provider = "hash" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ragerr.ErrConfig)
		})
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "rag: [not, a, map")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.ErrConfig)
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("PDF_RAG_TEST_KEY", "secret")
	c := LLMConfig{KeyEnv: "PDF_RAG_TEST_KEY"}
	assert.Equal(t, "secret", c.APIKey())

	c.Key = "literal"
	assert.Equal(t, "literal", c.APIKey())
}

func TestSampleConfigIsValid(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "chromem", cfg.VectorStore.Type)
	assert.Equal(t, "ollama", cfg.InferenceLLM.Provider)
	assert.Equal(t, 150, cfg.RAG.ChunkOverlap)
}
