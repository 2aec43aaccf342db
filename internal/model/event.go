package model

import (
	"time"
)

// EventType represents the type of transcript event.
type EventType string

const (
	EventTurnAppended        EventType = "turn_appended"
	EventTurnResolved        EventType = "turn_resolved"
	EventTranscriptReset     EventType = "transcript_reset"
	EventProgress            EventType = "progress"
	EventResolutionDiscarded EventType = "resolution_discarded"
	EventChatClosed          EventType = "chat_closed"
)

// TranscriptEvent describes one change to a chat transcript.
type TranscriptEvent struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id,omitempty"`
	TenantID string    `json:"tenant_id,omitempty"`
	Type     EventType `json:"type"`

	// Turn is set for appended and resolved turns.
	Turn *Turn `json:"turn,omitempty"`

	// TurnID names the target of a discarded resolution.
	TurnID   string `json:"turn_id,omitempty"`
	Progress string `json:"progress,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Sequence is the audit stream position, set when read back from history.
	Sequence uint64 `json:"sequence,omitempty"`
}

// EventHistory is a page of recorded transcript events.
type EventHistory struct {
	Events       []TranscriptEvent `json:"events"`
	LastSequence uint64            `json:"last_sequence"`
	HasMore      bool              `json:"has_more"`
}
