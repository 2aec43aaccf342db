// Package backend is the HTTP client for the BI analysis backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
	"github.com/capitalize-ai/bi-copilot/pkg/tracing"
)

const maxResponseBytes = 32 << 20

// Config holds backend connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client calls the analysis backend.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewClient creates a backend client.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend URL is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL scheme %q", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		logger:  log,
		tracer:  tracing.Tracer("backend"),
	}, nil
}

type analyzeRequest struct {
	Query string `json:"query"`
}

// Analyze runs the full analysis pipeline for one natural-language query.
func (c *Client) Analyze(ctx context.Context, query string) (*model.AnalyzeResult, error) {
	ctx, span := c.tracer.Start(ctx, "backend.Analyze")
	defer span.End()

	body, err := json.Marshal(analyzeRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze request: %w", err)
	}

	var result model.AnalyzeResult
	if err := c.do(ctx, http.MethodPost, "/api/analyze", body, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("analysis.intent", result.Intent),
		attribute.Int("analysis.charts", len(result.DashboardSpec.Charts)),
	)

	return &result, nil
}

// Schema returns the backend's cached schema summary.
func (c *Client) Schema(ctx context.Context) (*model.SchemaInfo, error) {
	ctx, span := c.tracer.Start(ctx, "backend.Schema")
	defer span.End()

	var info model.SchemaInfo
	if err := c.do(ctx, http.MethodGet, "/api/schema/info", nil, &info); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &info, nil
}

// Health checks that the backend is up.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "backend.Health")
	defer span.End()

	var status map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &status); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	endpoint := c.baseURL.JoinPath(path).String()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("backend request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, detail: parseDetail(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
