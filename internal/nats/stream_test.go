package nats

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
)

func runJetStream(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:              "127.0.0.1",
		Port:              -1,
		JetStream:         true,
		JetStreamMaxStore: 1 << 40,
		StoreDir:          t.TempDir(),
		NoLog:             true,
		NoSigs:            true,
	})
	require.NoError(t, err)

	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second), "nats server did not start")
	t.Cleanup(srv.Shutdown)
	return srv
}

func newEventStream(t *testing.T) (*EventStream, *Client) {
	t.Helper()
	srv := runJetStream(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, Config{URL: srv.ClientURL()}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	stream := NewEventStream(client)
	require.NoError(t, stream.EnsureStream(ctx))
	return stream, client
}

func event(tenantID, chatID string, eventType model.EventType) *model.TranscriptEvent {
	return &model.TranscriptEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      eventType,
		TenantID:  tenantID,
		ChatID:    chatID,
		CreatedAt: time.Now(),
	}
}

func TestEventSubjectSanitizesTokens(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		chatID   string
		want     string
	}{
		{"plain", "acme", "c1", "bi.acme.c1.turn_appended"},
		{"dots", "acme.eu", "c.1", "bi.acme_eu.c_1.turn_appended"},
		{"wildcards", "a*b", "c>d", "bi.a_b.c_d.turn_appended"},
		{"spaces", "acme corp", "c 1", "bi.acme_corp.c_1.turn_appended"},
		{"empty", "", "", "bi._._.turn_appended"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EventSubject(tt.tenantID, tt.chatID, model.EventTurnAppended))
		})
	}

	assert.Equal(t, "bi.acme_eu.c_1.>", ChatFilter("acme.eu", "c.1"))
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	stream, _ := newEventStream(t)
	assert.NoError(t, stream.EnsureStream(context.Background()))
}

func TestPublishEventDeduplicatesByID(t *testing.T) {
	stream, _ := newEventStream(t)
	ctx := context.Background()

	e := event("acme", "c1", model.EventTurnAppended)
	first, err := stream.PublishEvent(ctx, e)
	require.NoError(t, err)
	second, err := stream.PublishEvent(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	history, err := stream.History(ctx, "acme", "c1", 0, 10)
	require.NoError(t, err)
	require.Len(t, history.Events, 1)
	assert.Equal(t, e.ID, history.Events[0].ID)
	assert.Equal(t, first, history.Events[0].Sequence)
	assert.False(t, history.HasMore)
}

func TestHistoryPagesThroughOneChat(t *testing.T) {
	stream, _ := newEventStream(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		e := event("acme", "c1", model.EventTurnAppended)
		ids = append(ids, e.ID)
		_, err := stream.PublishEvent(ctx, e)
		require.NoError(t, err)

		// Another chat's events interleave in the same stream.
		_, err = stream.PublishEvent(ctx, event("acme", "c2", model.EventTurnAppended))
		require.NoError(t, err)
	}

	var got []string
	var after uint64
	pages := 0
	for {
		start := time.Now()
		history, err := stream.History(ctx, "acme", "c1", after, 2)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second, "short pages must not wait for a full batch")

		for _, e := range history.Events {
			assert.Equal(t, "c1", e.ChatID)
			assert.Greater(t, e.Sequence, after)
			got = append(got, e.ID)
		}
		pages++
		after = history.LastSequence
		if !history.HasMore {
			break
		}
		require.Less(t, pages, 5)
	}

	assert.Equal(t, ids, got)
	assert.Equal(t, 3, pages)

	empty, err := stream.History(ctx, "acme", "c1", after, 2)
	require.NoError(t, err)
	assert.Empty(t, empty.Events)
	assert.False(t, empty.HasMore)
}

func TestHistorySkipsUndecodableEvents(t *testing.T) {
	stream, client := newEventStream(t)
	ctx := context.Background()

	good1 := event("acme", "c1", model.EventTurnAppended)
	_, err := stream.PublishEvent(ctx, good1)
	require.NoError(t, err)

	_, err = client.JetStream().Publish(ctx, EventSubject("acme", "c1", model.EventTurnResolved), []byte("not json"))
	require.NoError(t, err)

	good2 := event("acme", "c1", model.EventTranscriptReset)
	_, err = stream.PublishEvent(ctx, good2)
	require.NoError(t, err)

	history, err := stream.History(ctx, "acme", "c1", 0, 2)
	require.NoError(t, err)
	require.Len(t, history.Events, 1)
	assert.Equal(t, good1.ID, history.Events[0].ID)
	assert.True(t, history.HasMore)

	history, err = stream.History(ctx, "acme", "c1", history.LastSequence, 2)
	require.NoError(t, err)
	require.Len(t, history.Events, 1)
	assert.Equal(t, good2.ID, history.Events[0].ID)
	assert.False(t, history.HasMore)
}
