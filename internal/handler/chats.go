// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/middleware"
	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/internal/service"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
)

// ChatHandler handles chat endpoints.
type ChatHandler struct {
	service *service.ChatService
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/chats
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)

	var req model.CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := h.service.Create(ctx, tenantID, userID, &req)
	if err != nil {
		h.logger.Error("failed to create chat", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	writeJSON(w, http.StatusCreated, chat)
}

// List handles GET /api/v1/chats
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	limit := queryInt(r, "limit", 20, 1, 100)
	offset := queryInt(r, "offset", 0, 0, 1<<20)

	resp, err := h.service.List(ctx, tenantID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list chats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/chats/:id
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	chat, err := h.service.Get(ctx, middleware.GetTenantID(ctx), chatID)
	if err != nil {
		h.fail(w, "get chat", err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

// Delete handles DELETE /api/v1/chats/:id
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(ctx, middleware.GetTenantID(ctx), chatID); err != nil {
		h.fail(w, "delete chat", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Transcript handles GET /api/v1/chats/:id/transcript
func (h *ChatHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Transcript(ctx, middleware.GetTenantID(ctx), chatID)
	if err != nil {
		h.fail(w, "get transcript", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Reset handles POST /api/v1/chats/:id/reset. The chat keeps its ID; its
// transcript is cleared and any in-flight analysis result is dropped.
func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Reset(ctx, middleware.GetTenantID(ctx), chatID); err != nil {
		h.fail(w, "reset chat", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) fail(w http.ResponseWriter, op string, err error) {
	if writeServiceError(w, err) {
		return
	}
	h.logger.Error("failed to "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func chatIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return chatID, true
}
