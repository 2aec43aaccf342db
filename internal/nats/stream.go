package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bi-copilot/internal/model"
)

const (
	// StreamName is the name of the transcript audit stream.
	StreamName = "BI_TRANSCRIPTS"

	// SubjectPrefix is the prefix for all transcript subjects.
	SubjectPrefix = "bi"

	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// EventStream publishes transcript events to JetStream and reads them back.
type EventStream struct {
	client *Client
}

// NewEventStream creates a new event stream.
func NewEventStream(client *Client) *EventStream {
	return &EventStream{client: client}
}

// EnsureStream ensures the transcript stream exists with proper configuration.
func (s *EventStream) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "BI copilot transcript events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	s.client.logger.Info("created JetStream stream", zap.String("stream", StreamName))
	return nil
}

// EventSubject returns the subject for an event. NATS tokens may not
// contain dots, so IDs are sanitized.
func EventSubject(tenantID, chatID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, token(tenantID), token(chatID), eventType)
}

// ChatFilter returns the filter subject for all events of a chat.
func ChatFilter(tenantID, chatID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, token(tenantID), token(chatID))
}

func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// PublishEvent publishes an event to JetStream and returns its stream sequence.
func (s *EventStream) PublishEvent(ctx context.Context, event *model.TranscriptEvent) (uint64, error) {
	subject := EventSubject(event.TenantID, event.ChatID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := s.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// History reads a chat's recorded events starting after a stream sequence.
func (s *EventStream) History(ctx context.Context, tenantID, chatID string, afterSequence uint64, limit int) (*model.EventHistory, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject:     ChatFilter(tenantID, chatID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := s.client.JetStream().CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.FetchNoWait(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	history := &model.EventHistory{Events: []model.TranscriptEvent{}}
	fetched := 0
	var pending uint64
	var haveMeta bool
	for msg := range batch.Messages() {
		fetched++

		meta, err := msg.Metadata()
		if err == nil {
			history.LastSequence = meta.Sequence.Stream
			pending = meta.NumPending
			haveMeta = true
		}

		var event model.TranscriptEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.client.logger.Warn("skipping undecodable event",
				zap.String("subject", msg.Subject()),
				zap.Error(err),
			)
			continue
		}
		if meta != nil {
			event.Sequence = meta.Sequence.Stream
		}

		history.Events = append(history.Events, event)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	if haveMeta {
		history.HasMore = pending > 0
	} else {
		history.HasMore = fetched == limit
	}
	return history, nil
}
