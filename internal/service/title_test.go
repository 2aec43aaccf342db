package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/bi-copilot/internal/llm"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
)

type fakeLLM struct {
	content string
	err     error
	req     *llm.CompletionRequest
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func TestLLMTitler(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeLLM
		query  string
		want   string
	}{
		{
			name:   "strips quotes",
			client: &fakeLLM{content: "\"Sales by Region\"\n"},
			query:  "Show total sales by region",
			want:   "Sales by Region",
		},
		{
			name:   "caps word count",
			client: &fakeLLM{content: "one two three four five six seven eight nine ten"},
			query:  "q",
			want:   "one two three four five six seven eight",
		},
		{
			name:   "falls back on error",
			client: &fakeLLM{err: errors.New("rate limited")},
			query:  "Show total sales by region",
			want:   "Show total sales by region",
		},
		{
			name:   "falls back on blank title",
			client: &fakeLLM{content: "  "},
			query:  "Top customers",
			want:   "Top customers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			titler := NewLLMTitler(tt.client, "title-model", logger.NewNop())
			assert.Equal(t, tt.want, titler.Title(context.Background(), tt.query))
			if assert.NotNil(t, tt.client.req) {
				assert.Equal(t, "title-model", tt.client.req.Model)
			}
		})
	}
}

func TestLLMTitlerWithoutClient(t *testing.T) {
	titler := NewLLMTitler(nil, "", logger.NewNop())
	assert.Equal(t, "Show sales", titler.Title(context.Background(), "Show   sales"))
}

func TestFallbackTitle(t *testing.T) {
	assert.Equal(t, "Monthly revenue trend", FallbackTitle("  Monthly   revenue trend "))

	long := strings.Repeat("revenue ", 20)
	title := FallbackTitle(long)
	assert.True(t, strings.HasSuffix(title, "..."))
	assert.LessOrEqual(t, len([]rune(title)), maxFallbackRunes)
}
