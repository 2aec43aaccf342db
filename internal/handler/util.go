package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/capitalize-ai/bi-copilot/internal/service"
	"github.com/capitalize-ai/bi-copilot/internal/transcript"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps chat service errors to HTTP responses. It reports
// false for errors it does not recognize.
func writeServiceError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, service.ErrChatNotFound), errors.Is(err, transcript.ErrClosed):
		writeError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, transcript.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, transcript.ErrEmptyQuery.Error())
	case errors.Is(err, transcript.ErrBusy):
		writeError(w, http.StatusConflict, transcript.ErrBusy.Error())
	default:
		return false
	}
	return true
}

// queryInt parses a bounded integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def, min, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < min || parsed > max {
		return def
	}
	return parsed
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
