// Package transcript keeps the ordered turn log of one chat and reconciles
// asynchronous analysis outcomes into the turn that requested them.
package transcript

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/analysis"
	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
	"github.com/capitalize-ai/bi-copilot/pkg/metrics"
)

var (
	// ErrEmptyQuery is returned for empty or whitespace-only queries.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrBusy is returned when a turn is still pending and concurrent
	// submissions are not enabled.
	ErrBusy = errors.New("an analysis is already in progress")

	// ErrClosed is returned after Dispose.
	ErrClosed = errors.New("transcript is closed")

	// ErrTurnDiscarded is returned by Await when the turn was cleared
	// before it resolved.
	ErrTurnDiscarded = errors.New("turn was discarded before it resolved")
)

// Options tune a Transcript.
type Options struct {
	// AllowConcurrent lets a query be submitted while another turn is still
	// pending. Outcomes are matched to turns by id either way.
	AllowConcurrent bool
}

type subscriber struct {
	id int
	fn func(model.TranscriptEvent)
}

// Transcript is an append-only log of turns. The only in-place change a turn
// ever sees is its single pending → succeeded/failed transition.
type Transcript struct {
	session *analysis.Session
	logger  *logger.Logger
	opts    Options

	// opMu serializes Submit, NewChat and Dispose so a reset cannot slip
	// between appending a pending turn and dispatching its analysis.
	opMu sync.Mutex

	// emitMu is taken before mu and held through delivery, so subscribers
	// see events in the order the mutations happened.
	emitMu sync.Mutex

	mu     sync.Mutex
	turns  []model.Turn
	closed bool

	subMu       sync.Mutex
	subscribers []subscriber
	nextSubID   int

	unsubscribeSession func()
}

// New creates an empty transcript driving the given session.
func New(session *analysis.Session, log *logger.Logger, opts Options) *Transcript {
	t := &Transcript{
		session: session,
		logger:  log,
		opts:    opts,
	}
	t.unsubscribeSession = session.Subscribe(t.onSessionState)
	return t
}

// Session returns the analysis session driven by this transcript.
func (t *Transcript) Session() *analysis.Session {
	return t.session
}

// Submit appends a user turn and a pending assistant turn for query, then
// starts the analysis. It does not wait for the outcome.
func (t *Transcript) Submit(ctx context.Context, query string) (model.Turn, model.Turn, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return model.Turn{}, model.Turn{}, ErrEmptyQuery
	}

	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.emitMu.Lock()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.emitMu.Unlock()
		return model.Turn{}, model.Turn{}, ErrClosed
	}
	if !t.opts.AllowConcurrent && t.pendingIndexLocked() >= 0 {
		t.mu.Unlock()
		t.emitMu.Unlock()
		return model.Turn{}, model.Turn{}, ErrBusy
	}

	now := time.Now()
	user := model.Turn{
		ID:        newID(),
		Role:      model.RoleUser,
		Content:   query,
		Query:     query,
		CreatedAt: now,
	}
	assistant := model.Turn{
		ID:        newID(),
		Role:      model.RoleAssistant,
		Query:     query,
		Outcome:   &model.Outcome{State: model.OutcomePending},
		CreatedAt: now,
	}
	t.turns = append(t.turns, user, assistant.Clone())
	t.mu.Unlock()

	metrics.TurnsTotal.WithLabelValues(string(model.RoleUser)).Inc()
	metrics.TurnsTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

	t.emit(model.TranscriptEvent{Type: model.EventTurnAppended, Turn: ptr(user.Clone())})
	t.emit(model.TranscriptEvent{Type: model.EventTurnAppended, Turn: ptr(assistant.Clone())})
	t.emitMu.Unlock()

	// Session subscribers take emitMu, so the analysis starts after it is released.
	turnID := assistant.ID
	t.session.Analyze(ctx, query, func(res analysis.Resolution) {
		t.Resolve(turnID, res)
	})

	return user, assistant, nil
}

// Resolve applies an analysis outcome to the pending turn with the given id.
// If no such pending turn exists, for example because NewChat cleared the
// transcript while the call was outstanding, the outcome is dropped and
// Resolve reports false.
func (t *Transcript) Resolve(turnID string, res analysis.Resolution) bool {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	idx := t.indexLocked(turnID)
	if idx < 0 || !t.turns[idx].IsPending() {
		t.mu.Unlock()

		metrics.StaleResolutionsTotal.Inc()
		t.logger.Debug("discarding stale resolution", zap.String("turn_id", turnID))
		t.emit(model.TranscriptEvent{Type: model.EventResolutionDiscarded, TurnID: turnID})
		return false
	}

	now := time.Now()
	turn := &t.turns[idx]
	if res.Succeeded() {
		turn.Content = model.ContentAnalysisComplete
		turn.Outcome = &model.Outcome{State: model.OutcomeSucceeded, Result: res.Result}
	} else {
		turn.Content = ""
		turn.Outcome = &model.Outcome{State: model.OutcomeFailed, Error: res.Error}
	}
	turn.ResolvedAt = &now
	resolved := turn.Clone()
	t.mu.Unlock()

	t.emit(model.TranscriptEvent{Type: model.EventTurnResolved, Turn: &resolved})
	return true
}

// NewChat clears every turn and resets the session. Outcomes of calls made
// before the reset find no turn to land on and are dropped.
func (t *Transcript) NewChat() {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.clear()
}

// Dispose clears the transcript, emits a final chat_closed event and rejects
// further submissions.
func (t *Transcript) Dispose() {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.clear()
	t.unsubscribeSession()

	t.emitMu.Lock()
	t.emit(model.TranscriptEvent{Type: model.EventChatClosed})
	t.emitMu.Unlock()
}

func (t *Transcript) clear() {
	t.emitMu.Lock()
	t.mu.Lock()
	cleared := len(t.turns)
	t.turns = nil
	t.mu.Unlock()

	t.emit(model.TranscriptEvent{Type: model.EventTranscriptReset})
	t.emitMu.Unlock()

	t.session.Reset()
	t.logger.Debug("transcript reset", zap.Int("turns_cleared", cleared))
}

// Turns returns a copy of every turn in display order.
func (t *Transcript) Turns() []model.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.Turn, len(t.turns))
	for i, turn := range t.turns {
		out[i] = turn.Clone()
	}
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}

// Pending returns the most recent pending assistant turn, if any.
func (t *Transcript) Pending() (model.Turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.pendingIndexLocked()
	if idx < 0 {
		return model.Turn{}, false
	}
	return t.turns[idx].Clone(), true
}

// Turn returns the turn with the given id, if it is still in the transcript.
func (t *Transcript) Turn(turnID string) (model.Turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexLocked(turnID)
	if idx < 0 {
		return model.Turn{}, false
	}
	return t.turns[idx].Clone(), true
}

// Await blocks until the turn with the given id leaves pending and returns it.
// Cancelling ctx stops the wait but not the analysis.
func (t *Transcript) Await(ctx context.Context, turnID string) (model.Turn, error) {
	changed := make(chan struct{}, 1)
	cancel := t.Subscribe(func(e model.TranscriptEvent) {
		switch e.Type {
		case model.EventTurnResolved, model.EventTranscriptReset:
			select {
			case changed <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	for {
		turn, ok := t.Turn(turnID)
		if !ok {
			return model.Turn{}, ErrTurnDiscarded
		}
		if !turn.IsPending() {
			return turn, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return model.Turn{}, ctx.Err()
		}
	}
}

// Closed reports whether Dispose has been called.
func (t *Transcript) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Subscribe registers fn for every transcript event. Events are delivered
// one at a time in mutation order. fn runs synchronously on the goroutine
// that caused the change and must not call Submit, Resolve, NewChat or
// Dispose.
func (t *Transcript) Subscribe(fn func(model.TranscriptEvent)) (cancel func()) {
	t.subMu.Lock()
	t.nextSubID++
	id := t.nextSubID
	t.subscribers = append(t.subscribers, subscriber{id: id, fn: fn})
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		for i, sub := range t.subscribers {
			if sub.id == id {
				t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
				return
			}
		}
	}
}

// onSessionState relays progress for the pending turn. Progress that lands
// after a reset has no pending turn and is dropped.
func (t *Transcript) onSessionState(state analysis.State) {
	if !state.IsLoading {
		return
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	pending, ok := t.Pending()
	if !ok {
		return
	}
	t.emit(model.TranscriptEvent{
		Type:     model.EventProgress,
		TurnID:   pending.ID,
		Progress: state.Progress,
	})
}

func (t *Transcript) emit(event model.TranscriptEvent) {
	event.ID = newID()
	event.CreatedAt = time.Now()

	t.subMu.Lock()
	subs := make([]subscriber, len(t.subscribers))
	copy(subs, t.subscribers)
	t.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(event)
	}
}

func (t *Transcript) indexLocked(turnID string) int {
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].ID == turnID {
			return i
		}
	}
	return -1
}

func (t *Transcript) pendingIndexLocked() int {
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].IsPending() {
			return i
		}
	}
	return -1
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func ptr[T any](v T) *T {
	return &v
}
