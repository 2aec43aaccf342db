// Package service provides business logic for the BI copilot.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/analysis"
	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/internal/transcript"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
	"github.com/capitalize-ai/bi-copilot/pkg/metrics"
)

// ErrChatNotFound is returned for unknown chats and chats of another tenant.
var ErrChatNotFound = errors.New("chat not found")

const (
	eventBufferSize = 256
	publishTimeout  = 5 * time.Second
	titleTimeout    = 15 * time.Second
)

// EventPublisher receives every transcript event.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.TranscriptEvent) (uint64, error)
}

// Options configure a ChatService.
type Options struct {
	// IdleTTL expires chats nobody has touched for this long. Zero keeps
	// chats until they are deleted.
	IdleTTL    time.Duration
	Session    analysis.Options
	Transcript transcript.Options
}

type chatEntry struct {
	transcript  *transcript.Transcript
	unsubscribe func()

	mu     sync.Mutex
	chat   model.Chat
	titled bool
}

func (e *chatEntry) snapshot() model.Chat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chat
}

func (e *chatEntry) dispose() {
	e.transcript.Dispose()
	e.unsubscribe()
}

// ChatService owns every live chat. Each chat is its own transcript and
// analysis session; nothing is shared between chats.
type ChatService struct {
	analyzer  analysis.Analyzer
	titler    Titler
	publisher EventPublisher
	logger    *logger.Logger
	opts      Options

	chats *ttlcache.Cache[string, *chatEntry]

	events    chan *model.TranscriptEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewChatService creates a chat service. publisher may be nil.
func NewChatService(
	analyzer analysis.Analyzer,
	titler Titler,
	publisher EventPublisher,
	log *logger.Logger,
	opts Options,
) *ChatService {
	s := &ChatService{
		analyzer:  analyzer,
		titler:    titler,
		publisher: publisher,
		logger:    log,
		opts:      opts,
		chats: ttlcache.New(
			ttlcache.WithTTL[string, *chatEntry](opts.IdleTTL),
		),
		events: make(chan *model.TranscriptEvent, eventBufferSize),
		done:   make(chan struct{}),
	}

	s.chats.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *chatEntry]) {
		item.Value().dispose()
		metrics.ChatsActive.Dec()
		if reason == ttlcache.EvictionReasonExpired {
			s.logger.Info("chat expired", zap.String("chat_id", item.Key()))
		}
	})

	go s.chats.Start()

	s.wg.Add(1)
	go s.publishLoop()

	return s
}

// Close disposes every chat and stops background work.
func (s *ChatService) Close() {
	s.closeOnce.Do(func() {
		for _, item := range s.chats.Items() {
			item.Value().dispose()
		}
		s.chats.DeleteAll()
		s.chats.Stop()
		close(s.done)
	})
	s.wg.Wait()
}

// Create creates a new chat.
func (s *ChatService) Create(ctx context.Context, tenantID, userID string, req *model.CreateChatRequest) (*model.Chat, error) {
	now := time.Now()
	id := uuid.Must(uuid.NewV7()).String()
	log := s.logger.WithChat(id, tenantID)

	session := analysis.NewSession(s.analyzer, log, s.opts.Session)
	entry := &chatEntry{
		transcript: transcript.New(session, log, s.opts.Transcript),
		chat: model.Chat{
			ID:        id,
			TenantID:  tenantID,
			UserID:    userID,
			Title:     req.Title,
			CreatedAt: now,
			UpdatedAt: now,
		},
		titled: req.Title != "",
	}
	entry.unsubscribe = entry.transcript.Subscribe(func(e model.TranscriptEvent) {
		s.onEvent(entry, e)
	})

	s.chats.Set(id, entry, ttlcache.DefaultTTL)
	metrics.ChatsActive.Inc()

	log.Info("chat created", zap.String("user_id", userID))

	chat := entry.snapshot()
	return &chat, nil
}

// Get retrieves a chat by ID.
func (s *ChatService) Get(ctx context.Context, tenantID, chatID string) (*model.Chat, error) {
	entry, err := s.entry(tenantID, chatID)
	if err != nil {
		return nil, err
	}
	chat := entry.snapshot()
	return &chat, nil
}

// List returns a tenant's chats, most recently updated first.
func (s *ChatService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListChatsResponse, error) {
	var chats []model.Chat
	for _, item := range s.chats.Items() {
		chat := item.Value().snapshot()
		if chat.TenantID == tenantID {
			chats = append(chats, chat)
		}
	}

	sort.Slice(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})

	total := len(chats)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &model.ListChatsResponse{
		Chats:   append([]model.Chat{}, chats[start:end]...),
		Total:   total,
		HasMore: end < total,
	}, nil
}

// Delete disposes a chat and forgets it.
func (s *ChatService) Delete(ctx context.Context, tenantID, chatID string) error {
	entry, err := s.entry(tenantID, chatID)
	if err != nil {
		return err
	}

	entry.dispose()
	s.chats.Delete(chatID)
	return nil
}

// Submit asks a question in a chat. The analysis runs in the background;
// the returned turns are the user turn and the pending assistant turn.
func (s *ChatService) Submit(ctx context.Context, tenantID, chatID, query string) (*model.SubmitQueryResponse, error) {
	entry, err := s.entry(tenantID, chatID)
	if err != nil {
		return nil, err
	}

	user, assistant, err := entry.transcript.Submit(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("submit to chat %s: %w", chatID, err)
	}

	s.maybeTitle(ctx, entry, user.Content)

	return &model.SubmitQueryResponse{
		UserTurn:      user,
		AssistantTurn: assistant,
	}, nil
}

// Touch marks a chat as in use, which restarts its idle expiry.
func (s *ChatService) Touch(ctx context.Context, tenantID, chatID string) error {
	_, err := s.entry(tenantID, chatID)
	return err
}

// Reset starts the chat over with an empty transcript.
func (s *ChatService) Reset(ctx context.Context, tenantID, chatID string) error {
	entry, err := s.entry(tenantID, chatID)
	if err != nil {
		return err
	}

	entry.transcript.NewChat()
	return nil
}

// Transcript returns every turn of a chat plus the analysis session state.
func (s *ChatService) Transcript(ctx context.Context, tenantID, chatID string) (*model.TranscriptResponse, error) {
	entry, err := s.entry(tenantID, chatID)
	if err != nil {
		return nil, err
	}

	state := entry.transcript.Session().State()
	session := model.SessionState{
		IsLoading: state.IsLoading,
		Result:    state.Result,
		Progress:  state.Progress,
	}
	if state.Error != "" {
		msg := state.Error
		session.Error = &msg
	}

	return &model.TranscriptResponse{
		ChatID:  chatID,
		Turns:   entry.transcript.Turns(),
		Session: session,
	}, nil
}

// Subscribe streams a chat's transcript events to fn until cancel is called.
// fn must not block.
func (s *ChatService) Subscribe(ctx context.Context, tenantID, chatID string, fn func(model.TranscriptEvent)) (cancel func(), err error) {
	entry, err := s.entry(tenantID, chatID)
	if err != nil {
		return nil, err
	}

	return entry.transcript.Subscribe(func(e model.TranscriptEvent) {
		e.ChatID = chatID
		e.TenantID = tenantID
		fn(e)
	}), nil
}

// wait blocks until background titling and analyses of every chat finish.
func (s *ChatService) wait() {
	for _, item := range s.chats.Items() {
		item.Value().transcript.Session().Wait()
	}
	s.wg.Wait()
}

// entry looks a chat up. The lookup extends the chat's idle TTL.
func (s *ChatService) entry(tenantID, chatID string) (*chatEntry, error) {
	item := s.chats.Get(chatID)
	if item == nil {
		return nil, ErrChatNotFound
	}

	entry := item.Value()
	if entry.snapshot().TenantID != tenantID {
		return nil, ErrChatNotFound
	}
	return entry, nil
}

func (s *ChatService) maybeTitle(ctx context.Context, entry *chatEntry, query string) {
	entry.mu.Lock()
	if entry.titled {
		entry.mu.Unlock()
		return
	}
	entry.titled = true
	entry.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		titleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), titleTimeout)
		defer cancel()

		title := s.titler.Title(titleCtx, query)

		entry.mu.Lock()
		if entry.chat.Title == "" {
			entry.chat.Title = title
		}
		entry.mu.Unlock()
	}()
}

func (s *ChatService) onEvent(entry *chatEntry, e model.TranscriptEvent) {
	entry.mu.Lock()
	switch e.Type {
	case model.EventTurnAppended:
		entry.chat.TurnCount++
		entry.chat.UpdatedAt = e.CreatedAt
	case model.EventTurnResolved:
		entry.chat.UpdatedAt = e.CreatedAt
	case model.EventTranscriptReset:
		entry.chat.TurnCount = 0
		entry.chat.UpdatedAt = e.CreatedAt
	}
	e.ChatID = entry.chat.ID
	e.TenantID = entry.chat.TenantID
	entry.mu.Unlock()

	if s.publisher == nil || e.Type == model.EventProgress {
		return
	}

	select {
	case s.events <- &e:
	case <-s.done:
	default:
		metrics.EventPublishFailures.WithLabelValues(string(e.Type)).Inc()
		s.logger.Warn("event buffer full, dropping transcript event",
			zap.String("chat_id", e.ChatID),
			zap.String("type", string(e.Type)),
		)
	}
}

func (s *ChatService) publishLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case e := <-s.events:
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			if _, err := s.publisher.PublishEvent(ctx, e); err != nil {
				metrics.EventPublishFailures.WithLabelValues(string(e.Type)).Inc()
				s.logger.Error("failed to publish transcript event",
					zap.String("chat_id", e.ChatID),
					zap.String("type", string(e.Type)),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}
