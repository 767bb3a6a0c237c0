package llmservice

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
	"pdf-rag/internal/ragerr"
)

// Completer is the part of a langchaingo model used for generation.
type Completer interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

var thinkRe = regexp.MustCompile(models.ThinkTag)

// NewModel binds the generation model selected by llmConfig.
func NewModel(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().
		Str("provider", llmConfig.Provider).
		Str("base_url", llmConfig.BaseURL).
		Str("model", llmConfig.Model).
		Msg("Creating generation model")

	var (
		llm llms.Model
		err error
	)
	switch llmConfig.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.APIKey(), "Bearer ")),
			openai.WithModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err = openai.New(opts...)
	case "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	case "anthropic":
		llm, err = anthropic.New(
			anthropic.WithToken(llmConfig.APIKey()),
			anthropic.WithModel(llmConfig.Model),
		)
	default:
		return nil, ragerr.Configf("llmservice.NewModel", "provider %q has no generation model", llmConfig.Provider)
	}
	if err != nil {
		return nil, ragerr.Config("llmservice.NewModel", err)
	}
	return llm, nil
}

// CallOptions maps the sampling settings of llmConfig to langchaingo options.
func CallOptions(llmConfig *config.LLMConfig) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(llmConfig.Temperature)}
	if llmConfig.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(llmConfig.MaxTokens))
	}
	return opts
}

// GenerateContent sends messages to the model and returns the first
// choice with reasoning blocks removed. Failures are GenerationErrors.
func GenerateContent(ctx context.Context, llm Completer, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	res, err := llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", ragerr.Generation("llmservice.GenerateContent", err)
	}
	if res == nil || len(res.Choices) == 0 || res.Choices[0] == nil {
		return "", ragerr.Generation("llmservice.GenerateContent", errors.New("model returned no choices"))
	}
	return StripThinking(res.Choices[0].Content), nil
}

// StripThinking removes <think>...</think> blocks and surrounding space.
func StripThinking(text string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(text, ""))
}
