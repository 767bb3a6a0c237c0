package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/ragerr"
)

// AnswerGenerator turns a question and its retrieved chunks into an
// attributed answer.
type AnswerGenerator struct {
	llm             llmservice.Completer
	maxContextChars int
	allowNoContext  bool
	callOptions     []llms.CallOption
}

// NewAnswerGenerator builds a generator whose context block never exceeds
// maxContextChars characters. With allowNoContext the model is asked even
// when nothing was retrieved.
func NewAnswerGenerator(llm llmservice.Completer, maxContextChars int, allowNoContext bool, opts ...llms.CallOption) *AnswerGenerator {
	return &AnswerGenerator{
		llm:             llm,
		maxContextChars: maxContextChars,
		allowNoContext:  allowNoContext,
		callOptions:     opts,
	}
}

// BuildContext joins chunk texts in result order until the next chunk would
// push the block past maxChars, and returns the block with the chunks it
// holds. Chunks are never cut.
func BuildContext(result models.RetrievalResult, maxChars int) (string, models.RetrievalResult) {
	var b strings.Builder
	used := 0
	sepLen := utf8.RuneCountInString(models.ContextSeparator)
	included := make(models.RetrievalResult, 0, len(result))
	for _, r := range result {
		n := utf8.RuneCountInString(r.Record.Content)
		if len(included) > 0 {
			n += sepLen
		}
		if used+n > maxChars {
			break
		}
		if len(included) > 0 {
			b.WriteString(models.ContextSeparator)
		}
		b.WriteString(r.Record.Content)
		used += n
		included = append(included, r)
	}
	return b.String(), included
}

// Confidence is the mean score of the included chunks clamped to [0, 1],
// or 0 when there are none.
func Confidence(included models.RetrievalResult) float64 {
	if len(included) == 0 {
		return 0
	}
	var sum float64
	for _, r := range included {
		sum += r.Score
	}
	return min(max(sum/float64(len(included)), 0), 1)
}

func attributions(included models.RetrievalResult) []models.Attribution {
	sources := make([]models.Attribution, len(included))
	for i, r := range included {
		sources[i] = models.Attribution{
			DocumentID: r.Record.DocumentID,
			ChunkIndex: r.Record.ChunkIndex,
			PageNumber: r.Record.PageNumber,
			Score:      r.Score,
		}
	}
	return sources
}

// Generate answers question from result. Without usable context it either
// returns models.NoContextAnswer or, when allowed, asks the model with the
// question alone. Model failures are GenerationErrors and are not retried.
func (g *AnswerGenerator) Generate(ctx context.Context, question string, result models.RetrievalResult) (*models.Answer, error) {
	contextBlock, included := BuildContext(result, g.maxContextChars)
	if len(included) < len(result) {
		log.Debug().
			Int("retrieved", len(result)).
			Int("included", len(included)).
			Int("max_context_chars", g.maxContextChars).
			Msg("Context truncated")
	}

	var prompt string
	switch {
	case len(included) > 0:
		prompt = fmt.Sprintf(models.AnswerPromptTemplate, contextBlock, question)
	case g.allowNoContext:
		prompt = fmt.Sprintf(models.NoContextPromptTemplate, question)
	default:
		return &models.Answer{Content: models.NoContextAnswer, Sources: []models.Attribution{}}, nil
	}

	if g.llm == nil {
		return nil, ragerr.Generation("rag.Generate", errors.New("no generation model configured"))
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	content, err := llmservice.GenerateContent(ctx, g.llm, messages, g.callOptions...)
	if err != nil {
		return nil, ragerr.Generation("rag.Generate", err)
	}

	return &models.Answer{
		Content:    content,
		Confidence: Confidence(included),
		Sources:    attributions(included),
	}, nil
}
