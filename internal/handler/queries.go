package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/middleware"
	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/internal/service"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
)

// QueryHandler handles question submission.
type QueryHandler struct {
	service *service.ChatService
	logger  *logger.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(svc *service.ChatService, log *logger.Logger) *QueryHandler {
	return &QueryHandler{
		service: svc,
		logger:  log,
	}
}

// Submit handles POST /api/v1/chats/:id/queries
//
// The analysis runs in the background. The response is 202 Accepted with the
// appended user turn and pending assistant turn; the outcome arrives on the
// chat's event stream and in its transcript.
func (h *QueryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	var req model.SubmitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateQuery(req.Query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Submit(ctx, tenantID, chatID, req.Query)
	if err != nil {
		if writeServiceError(w, err) {
			return
		}
		h.logger.Error("failed to submit query", zap.String("chat_id", chatID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit query")
		return
	}

	w.Header().Set("X-Stream-URL", "/api/v1/chats/"+chatID+"/stream")
	writeJSON(w, http.StatusAccepted, resp)
}
