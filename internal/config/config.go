package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"pdf-rag/internal/ragerr"
)

type Config struct {
	RAG          RAGConfig         `yaml:"rag"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	Database     DatabaseConfig    `yaml:"database"`
	Log          LogConfig         `yaml:"log"`
}

// RAGConfig holds the retrieval and generation parameters.
type RAGConfig struct {
	ChunkSize            int     `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap         int     `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	TopK                 int     `yaml:"top_k" validate:"gt=0"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold" validate:"gte=-1,lte=1"`
	MaxContextChars      int     `yaml:"max_context_chars" validate:"gt=0"`
	AnswerWithoutContext bool    `yaml:"answer_without_context"`
	IngestWorkers        int     `yaml:"ingest_workers" validate:"gt=0"`
	EmbedBatchSize       int     `yaml:"embed_batch_size" validate:"gt=0"`
}

// LLMConfig binds a model by provider and name.
type LLMConfig struct {
	Provider      string  `yaml:"provider" validate:"oneof=ollama openai anthropic hash"`
	BaseURL       string  `yaml:"base_url"`
	Model         string  `yaml:"model" validate:"required"`
	Key           string  `yaml:"key"`
	KeyEnv        string  `yaml:"key_env"`
	MaxInputChars int     `yaml:"max_input_chars" validate:"gte=0"`
	Dimension     int     `yaml:"dimension" validate:"gte=0"`
	Temperature   float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens     int     `yaml:"max_tokens" validate:"gte=0"`
}

// APIKey returns the literal key or, when empty, the value of KeyEnv.
func (c LLMConfig) APIKey() string {
	if c.Key != "" {
		return c.Key
	}
	if c.KeyEnv != "" {
		return os.Getenv(c.KeyEnv)
	}
	return ""
}

type VectorStoreConfig struct {
	Type          string `yaml:"type" validate:"oneof=chromem pgvector"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection" validate:"required"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver" validate:"omitempty,oneof=pgdriver pq"`
	Debug    bool   `yaml:"debug"`
}

type LogConfig struct {
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	Console bool   `yaml:"console"`
}

const (
	defaultChunkSize       = 1000
	defaultChunkOverlap    = 150
	defaultTopK            = 5
	defaultMaxContextChars = 4000
	defaultMaxInputChars   = 8000
)

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		RAG: RAGConfig{
			ChunkSize:           defaultChunkSize,
			ChunkOverlap:        defaultChunkOverlap,
			TopK:                defaultTopK,
			SimilarityThreshold: -1,
			MaxContextChars:     defaultMaxContextChars,
			IngestWorkers:       4,
			EmbedBatchSize:      32,
		},
		EmbedLLM: LLMConfig{
			Provider:      "ollama",
			BaseURL:       "http://localhost:11434",
			Model:         "all-minilm",
			MaxInputChars: defaultMaxInputChars,
		},
		InferenceLLM: LLMConfig{
			Provider:    "ollama",
			BaseURL:     "http://localhost:11434",
			Model:       "llama3.2",
			Temperature: 0,
			MaxTokens:   256,
		},
		VectorStore: VectorStoreConfig{
			Type:       "chromem",
			Path:       "./data/chromemdb",
			Collection: "pdf_chunks",
		},
		Database: DatabaseConfig{
			Driver: "pgdriver",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults and validates it.
// A missing file yields the validated defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, ragerr.Config("config.LoadConfig", fmt.Errorf("failed to parse %s: %w", path, err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every parameter once, at startup.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return ragerr.Configf("config.Validate", "%s", strings.Join(msgs, "; "))
		}
		return ragerr.Config("config.Validate", err)
	}
	if c.InferenceLLM.Provider == "hash" {
		return ragerr.Configf("config.Validate", "provider %q cannot generate text", c.InferenceLLM.Provider)
	}
	if limit := c.EmbedLLM.MaxInputChars; limit > 0 && c.RAG.ChunkSize > limit {
		return ragerr.Configf("config.Validate", "chunk_size %d exceeds embedder max_input_chars %d", c.RAG.ChunkSize, limit)
	}
	if c.RAG.ChunkSize > c.RAG.MaxContextChars {
		return ragerr.Configf("config.Validate", "chunk_size %d exceeds max_context_chars %d", c.RAG.ChunkSize, c.RAG.MaxContextChars)
	}
	if c.VectorStore.Type == "chromem" && !c.VectorStore.InMemory && c.VectorStore.Path == "" {
		return ragerr.Configf("config.Validate", "vector_store.path is required for a persistent chromem store")
	}
	if c.VectorStore.Type == "pgvector" && c.Database.DSN == "" {
		return ragerr.Configf("config.Validate", "database.dsn is required for the pgvector store")
	}
	return nil
}
