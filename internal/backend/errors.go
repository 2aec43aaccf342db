package backend

import (
	"encoding/json"
	"fmt"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	detail     string
}

// NewAPIError builds an APIError with an explicit detail message.
func NewAPIError(status int, detail string) *APIError {
	return &APIError{StatusCode: status, detail: detail}
}

// Error returns a generic message naming the status code.
func (e *APIError) Error() string {
	return fmt.Sprintf("Request failed with status code %d", e.StatusCode)
}

// Detail returns the backend's structured detail message, if any.
func (e *APIError) Detail() string {
	return e.detail
}

// parseDetail extracts FastAPI's "detail" field. It is either a string or,
// for request validation failures, a list of {loc, msg, type} objects.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		return text
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil && len(items) > 0 {
		return items[0].Msg
	}

	return ""
}
