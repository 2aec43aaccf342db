// Package analysis manages the lifecycle of analyze calls against the BI backend.
package analysis

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
	"github.com/capitalize-ai/bi-copilot/pkg/metrics"
)

// Progress labels. They are set on the client without any backend signal
// and only advance through a fixed sequence.
const (
	PhaseClassifying = "Classifying intent..."
	PhasePlanning    = "Creating analysis plan..."
	PhaseGenerating  = "Generating SQL..."
	PhaseBuilding    = "Building dashboard..."

	ProgressComplete = "Complete"
)

// Phases is the order progress labels are shown in while loading.
var Phases = []string{PhaseClassifying, PhasePlanning, PhaseGenerating, PhaseBuilding}

// Analyzer is the external analyze capability.
type Analyzer interface {
	Analyze(ctx context.Context, query string) (*model.AnalyzeResult, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, query string) (*model.AnalyzeResult, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, query string) (*model.AnalyzeResult, error) {
	return f(ctx, query)
}

// State is the observable record of a session.
// Error is empty when there is no error.
type State struct {
	IsLoading bool
	Error     string
	Result    *model.AnalyzeResult
	Progress  string
}

// Resolution is the normalized outcome of one analyze call.
// Exactly one of Result and Error is set.
type Resolution struct {
	Query    string
	Result   *model.AnalyzeResult
	Error    string
	Duration time.Duration
}

// Succeeded reports whether the call produced a result.
func (r Resolution) Succeeded() bool {
	return r.Result != nil
}

// Options tune a Session.
type Options struct {
	// ProgressInterval advances the progress label one phase per interval
	// while a call is outstanding. Zero keeps the initial label.
	ProgressInterval time.Duration
}

type subscriber struct {
	id int
	fn func(State)
}

// Session tracks one analyze call at a time and exposes its progress and
// outcome. A new Analyze or a Reset invalidates any call still outstanding:
// its resolution is still delivered to its callback but no longer changes
// the session state.
type Session struct {
	analyzer Analyzer
	logger   *logger.Logger
	opts     Options

	// notifyMu is taken before mu by every state change and held until
	// subscribers have seen it, so notifications follow change order.
	notifyMu sync.Mutex

	mu          sync.Mutex
	state       State
	generation  uint64
	subscribers []subscriber
	nextSubID   int

	inflight sync.WaitGroup
}

// NewSession creates a session over the given analyzer.
func NewSession(analyzer Analyzer, log *logger.Logger, opts Options) *Session {
	return &Session{
		analyzer: analyzer,
		logger:   log,
		opts:     opts,
	}
}

// State returns a snapshot of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Analyze starts one analyze call and returns without waiting for it.
// The query must already be trimmed and non-empty. done, if non-nil, is
// invoked exactly once from the call's goroutine with the normalized outcome.
//
// Cancelling ctx does not abort the call; only its values are inherited.
func (s *Session) Analyze(ctx context.Context, query string, done func(Resolution)) {
	s.notifyMu.Lock()
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = State{IsLoading: true, Progress: PhaseClassifying}
	snapshot := s.state
	s.mu.Unlock()

	s.notify(snapshot)
	s.notifyMu.Unlock()
	s.logger.Debug("analysis started", zap.String("query", query), zap.Uint64("generation", gen))

	s.inflight.Add(1)
	go s.run(context.WithoutCancel(ctx), gen, query, done)
}

func (s *Session) run(ctx context.Context, gen uint64, query string, done func(Resolution)) {
	defer s.inflight.Done()

	stopProgress := s.startProgress(gen)
	start := time.Now()
	result, err := s.analyzer.Analyze(ctx, query)
	stopProgress()

	res := Resolution{Query: query, Duration: time.Since(start)}
	status := "success"
	if err != nil || result == nil {
		res.Error = ErrorMessage(err)
		status = "error"
	} else {
		res.Result = result
	}
	metrics.RecordAnalysis(status, res.Duration.Seconds())

	s.notifyMu.Lock()
	s.mu.Lock()
	current := gen == s.generation
	if current {
		if res.Succeeded() {
			s.state = State{Result: res.Result, Progress: ProgressComplete}
		} else {
			s.state = State{Error: res.Error}
		}
	}
	snapshot := s.state
	s.mu.Unlock()

	if current {
		s.notify(snapshot)
	}
	s.notifyMu.Unlock()

	if current {
		s.logger.Info("analysis resolved",
			zap.String("status", status),
			zap.Duration("duration", res.Duration),
			zap.String("error", res.Error),
		)
	} else {
		s.logger.Debug("analysis resolved after invalidation, state unchanged",
			zap.Uint64("generation", gen),
			zap.String("status", status),
		)
	}

	if done != nil {
		done(res)
	}
}

// startProgress walks the progress label through Phases until stopped. The
// returned function blocks until the walker has exited so no label update
// can land after the resolution.
func (s *Session) startProgress(gen uint64) func() {
	if s.opts.ProgressInterval <= 0 {
		return func() {}
	}

	quit := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(s.opts.ProgressInterval)
		defer ticker.Stop()

		for phase := 1; phase < len(Phases); phase++ {
			select {
			case <-quit:
				return
			case <-ticker.C:
				if !s.advance(gen, Phases[phase]) {
					return
				}
			}
		}
	}()

	return func() {
		close(quit)
		<-exited
	}
}

func (s *Session) advance(gen uint64, label string) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if gen != s.generation || !s.state.IsLoading {
		s.mu.Unlock()
		return false
	}
	s.state.Progress = label
	snapshot := s.state
	s.mu.Unlock()

	s.notify(snapshot)
	return true
}

// Reset returns the session to idle regardless of any outstanding call.
func (s *Session) Reset() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.generation++
	s.state = State{}
	snapshot := s.state
	s.mu.Unlock()

	s.notify(snapshot)
}

// Wait blocks until every dispatched call has resolved and its callback has
// returned.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Subscribe registers fn to receive every state change, one at a time and in
// the order the changes happened. Calls come from whichever goroutine made
// the change; fn must not call Analyze or Reset.
func (s *Session) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) notify(state State) {
	s.mu.Lock()
	subs := make([]subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(state)
	}
}
