package model

import (
	"time"
)

// Role represents who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// OutcomeState is the lifecycle state of an assistant turn.
type OutcomeState string

const (
	OutcomePending   OutcomeState = "pending"
	OutcomeSucceeded OutcomeState = "succeeded"
	OutcomeFailed    OutcomeState = "failed"
)

// ContentAnalysisComplete is the assistant turn text after a successful analysis.
const ContentAnalysisComplete = "Analysis complete"

// Outcome is the result slot of an assistant turn. Exactly one of Result
// (succeeded) or Error (failed) is set once the state leaves pending.
type Outcome struct {
	State  OutcomeState   `json:"state"`
	Result *AnalyzeResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Turn is one entry of a chat transcript.
type Turn struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Query   string `json:"query,omitempty"`

	// Outcome is nil for user turns.
	Outcome *Outcome `json:"outcome,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// IsPending reports whether the turn is an assistant turn awaiting its outcome.
func (t *Turn) IsPending() bool {
	return t.Outcome != nil && t.Outcome.State == OutcomePending
}

// Succeeded reports whether the turn resolved with a dashboard.
func (t *Turn) Succeeded() bool {
	return t.Outcome != nil && t.Outcome.State == OutcomeSucceeded
}

// Failed reports whether the turn resolved with an error.
func (t *Turn) Failed() bool {
	return t.Outcome != nil && t.Outcome.State == OutcomeFailed
}

// Clone returns a copy that shares no mutable state with t.
// The AnalyzeResult pointer is shared; results are treated as immutable.
func (t Turn) Clone() Turn {
	if t.Outcome != nil {
		o := *t.Outcome
		t.Outcome = &o
	}
	if t.ResolvedAt != nil {
		r := *t.ResolvedAt
		t.ResolvedAt = &r
	}
	return t
}
