package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/middleware"
	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
)

// HistoryReader reads recorded transcript events.
type HistoryReader interface {
	History(ctx context.Context, tenantID, chatID string, afterSequence uint64, limit int) (*model.EventHistory, error)
}

// HistoryHandler serves the transcript audit trail.
type HistoryHandler struct {
	reader HistoryReader
	logger *logger.Logger
}

// NewHistoryHandler creates a new history handler. reader may be nil when
// no audit stream is configured.
func NewHistoryHandler(reader HistoryReader, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		reader: reader,
		logger: log,
	}
}

// List handles GET /api/v1/chats/:id/events
// Supports ?after_sequence=N for paging through the stream.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "event history not enabled")
		return
	}

	var afterSequence uint64
	if seq := r.URL.Query().Get("after_sequence"); seq != "" {
		parsed, err := strconv.ParseUint(seq, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		afterSequence = parsed
	}
	limit := queryInt(r, "limit", 100, 1, 500)

	history, err := h.reader.History(ctx, tenantID, chatID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to read event history", zap.String("chat_id", chatID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read event history")
		return
	}

	writeJSON(w, http.StatusOK, history)
}
