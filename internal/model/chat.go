// Package model defines data structures for the BI copilot.
package model

import (
	"time"
)

// Chat is one conversational analysis thread.
type Chat struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

// CreateChatRequest is the request to create a new chat.
type CreateChatRequest struct {
	Title string `json:"title"`
}

// ListChatsResponse is the response for listing chats.
type ListChatsResponse struct {
	Chats   []Chat `json:"chats"`
	Total   int    `json:"total"`
	HasMore bool   `json:"has_more"`
}

// SubmitQueryRequest is the request to ask a question in a chat.
type SubmitQueryRequest struct {
	Query string `json:"query"`
}

// SubmitQueryResponse carries the two turns appended by a submission.
type SubmitQueryResponse struct {
	UserTurn      Turn `json:"user_turn"`
	AssistantTurn Turn `json:"assistant_turn"`
}

// SessionState mirrors the analysis session record for API consumers.
type SessionState struct {
	IsLoading bool           `json:"is_loading"`
	Error     *string        `json:"error"`
	Result    *AnalyzeResult `json:"result"`
	Progress  string         `json:"progress"`
}

// TranscriptResponse is the full transcript of a chat.
type TranscriptResponse struct {
	ChatID  string       `json:"chat_id"`
	Turns   []Turn       `json:"turns"`
	Session SessionState `json:"session"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
