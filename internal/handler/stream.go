package handler

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/middleware"
	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/internal/service"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
	"github.com/capitalize-ai/bi-copilot/pkg/metrics"
)

const (
	defaultHeartbeat = 30 * time.Second
	streamBufferSize = 64
)

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	service   *service.ChatService
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.ChatService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service:   svc,
		logger:    log,
		heartbeat: defaultHeartbeat,
	}
}

// Stream handles GET /api/v1/chats/:id/stream
//
// The stream opens with a "connected" event and a "snapshot" of the current
// transcript, then forwards every transcript event live. Events that race
// the snapshot may be delivered twice; turns are keyed by ID. An open stream
// keeps its chat from idling out, and the stream ends with "chat_closed"
// once the chat is deleted or expires.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events := make(chan model.TranscriptEvent, streamBufferSize)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	// Subscribe before taking the snapshot so nothing falls between them.
	cancel, err := h.service.Subscribe(ctx, tenantID, chatID, func(e model.TranscriptEvent) {
		select {
		case events <- e:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	if err != nil {
		if !writeServiceError(w, err) {
			writeError(w, http.StatusInternalServerError, "failed to open stream")
		}
		return
	}
	defer cancel()

	snapshot, err := h.service.Transcript(ctx, tenantID, chatID)
	if err != nil {
		if !writeServiceError(w, err) {
			writeError(w, http.StatusInternalServerError, "failed to open stream")
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithChat(chatID, tenantID)

	sendSSEEvent(w, flusher, "connected", map[string]string{"chat_id": chatID})
	sendSSEEvent(w, flusher, "snapshot", snapshot)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case <-overflow:
			log.Warn("SSE client too slow, closing stream")
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "slow_consumer",
				Message: "event buffer overflow, reconnect to resync",
			})
			return

		case e := <-events:
			if err := sendSSEEvent(w, flusher, string(e.Type), e); err != nil {
				log.Debug("SSE write failed", zap.Error(err))
				return
			}
			if e.Type == model.EventChatClosed {
				log.Debug("chat closed, ending stream")
				return
			}

		case <-heartbeat.C:
			if err := h.service.Touch(ctx, tenantID, chatID); err != nil {
				log.Debug("chat gone, ending stream", zap.Error(err))
				sendSSEEvent(w, flusher, string(model.EventChatClosed), &model.TranscriptEvent{
					Type:      model.EventChatClosed,
					ChatID:    chatID,
					TenantID:  tenantID,
					CreatedAt: time.Now(),
				})
				return
			}
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}
