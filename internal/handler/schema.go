package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/analysis"
	"github.com/capitalize-ai/bi-copilot/internal/backend"
	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
)

// SchemaSource describes the analysis backend's database.
type SchemaSource interface {
	Schema(ctx context.Context) (*model.SchemaInfo, error)
}

// SchemaHandler proxies schema information from the analysis backend.
type SchemaHandler struct {
	source SchemaSource
	logger *logger.Logger
}

// NewSchemaHandler creates a new schema handler.
func NewSchemaHandler(source SchemaSource, log *logger.Logger) *SchemaHandler {
	return &SchemaHandler{
		source: source,
		logger: log,
	}
}

// Get handles GET /api/v1/schema
func (h *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.source.Schema(r.Context())
	if err != nil {
		h.logger.Warn("schema lookup failed", zap.Error(err))

		status := http.StatusBadGateway
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		writeError(w, status, analysis.ErrorMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, info)
}
