package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/llm"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
)

const (
	maxTitleWords    = 8
	maxFallbackRunes = 60
)

const titleSystemPrompt = `Generate a concise, descriptive title for a data analysis chat.
Respond with ONLY the title, no quotes, no explanation. Maximum 8 words.`

// Titler names a chat from its first query.
type Titler interface {
	Title(ctx context.Context, query string) string
}

// LLMTitler asks an LLM for a title and falls back to the query text.
type LLMTitler struct {
	client llm.Client
	model  string
	logger *logger.Logger
}

// NewLLMTitler creates a titler. A nil client always uses the fallback.
func NewLLMTitler(client llm.Client, model string, log *logger.Logger) *LLMTitler {
	return &LLMTitler{
		client: client,
		model:  model,
		logger: log,
	}
}

// Title implements Titler.
func (t *LLMTitler) Title(ctx context.Context, query string) string {
	if t.client == nil {
		return FallbackTitle(query)
	}

	resp, err := t.client.Complete(ctx, &llm.CompletionRequest{
		Model:  t.model,
		System: titleSystemPrompt,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: fmt.Sprintf("Query: %s", query)},
		},
		MaxTokens:   32,
		Temperature: 0.7,
	})
	if err != nil {
		t.logger.Warn("title generation failed",
			zap.String("provider", t.client.Name()),
			zap.Error(err),
		)
		return FallbackTitle(query)
	}

	title := cleanTitle(resp.Content)
	if title == "" {
		return FallbackTitle(query)
	}
	return title
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	words := strings.Fields(s)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.Join(words, " ")
}

// FallbackTitle derives a title from the query itself.
func FallbackTitle(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if utf8.RuneCountInString(query) <= maxFallbackRunes {
		return query
	}
	runes := []rune(query)
	return strings.TrimSpace(string(runes[:maxFallbackRunes-3])) + "..."
}
