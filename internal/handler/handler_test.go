package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/bi-copilot/internal/backend"
	"github.com/capitalize-ai/bi-copilot/internal/middleware"
	"github.com/capitalize-ai/bi-copilot/internal/model"
	"github.com/capitalize-ai/bi-copilot/internal/service"
	"github.com/capitalize-ai/bi-copilot/pkg/logger"
)

const testSecret = "handler-test-secret"

type gatedAnalyzer struct {
	release chan struct{}
}

func (a *gatedAnalyzer) Analyze(ctx context.Context, query string) (*model.AnalyzeResult, error) {
	<-a.release
	return &model.AnalyzeResult{
		Intent:        "aggregation",
		DashboardSpec: model.DashboardSpec{Title: "Sales by Region"},
	}, nil
}

type fakeSchema struct {
	info *model.SchemaInfo
	err  error
}

func (f *fakeSchema) Schema(ctx context.Context) (*model.SchemaInfo, error) {
	return f.info, f.err
}

type fakeHistory struct{}

func (fakeHistory) History(ctx context.Context, tenantID, chatID string, after uint64, limit int) (*model.EventHistory, error) {
	return &model.EventHistory{
		Events:       []model.TranscriptEvent{{ID: "e1", ChatID: chatID, TenantID: tenantID, Type: model.EventTurnAppended, Sequence: after + 1}},
		LastSequence: after + 1,
	}, nil
}

type testAPI struct {
	server   *httptest.Server
	analyzer *gatedAnalyzer
	schema   *fakeSchema
}

func newTestAPI(t *testing.T, history HistoryReader) *testAPI {
	t.Helper()
	return newTestAPIWithOptions(t, history, service.Options{})
}

func newTestAPIWithOptions(t *testing.T, history HistoryReader, opts service.Options) *testAPI {
	t.Helper()
	log := logger.NewNop()

	analyzer := &gatedAnalyzer{release: make(chan struct{})}
	svc := service.NewChatService(analyzer, service.NewLLMTitler(nil, "", log), nil, log, opts)
	t.Cleanup(svc.Close)

	schema := &fakeSchema{info: &model.SchemaInfo{DatabaseHash: "abc", TableCount: 1}}
	stream := NewStreamHandler(svc, log)
	stream.heartbeat = 50 * time.Millisecond

	router := NewRouter(RouterConfig{
		Chats:   NewChatHandler(svc, log),
		Queries: NewQueryHandler(svc, log),
		Stream:  stream,
		History: NewHistoryHandler(history, log),
		Schema:  NewSchemaHandler(schema, log),
		Health: NewHealthHandler(map[string]Checker{
			"backend": CheckerFunc(func(ctx context.Context) error { return nil }),
		}),
		JWTSecret:         testSecret,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		QueryRateLimit:    1000,
		Logger:            log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testAPI{server: srv, analyzer: analyzer, schema: schema}
}

func token(t *testing.T, tenantID string, scopes ...string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID,
		Scopes:   scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (a *testAPI) do(t *testing.T, method, path, tok, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (a *testAPI) createChat(t *testing.T, tok string) model.Chat {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/api/v1/chats", tok, `{}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[model.Chat](t, resp)
}

func TestChatLifecycle(t *testing.T) {
	api := newTestAPI(t, nil)
	tok := token(t, "tenant-a", middleware.ScopeQuery)

	chat := api.createChat(t, tok)

	resp := api.do(t, http.MethodGet, "/api/v1/chats", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[model.ListChatsResponse](t, resp)
	assert.Equal(t, 1, list.Total)

	resp = api.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID, token(t, "tenant-b"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/v1/chats/not-a-uuid", tok, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/api/v1/chats/"+chat.ID, tok, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID, tok, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateChatRejectsLongTitle(t *testing.T) {
	api := newTestAPI(t, nil)
	body := `{"title": "` + strings.Repeat("t", 300) + `"}`
	resp := api.do(t, http.MethodPost, "/api/v1/chats", token(t, "tenant-a"), body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitQuery(t *testing.T) {
	api := newTestAPI(t, nil)
	tok := token(t, "tenant-a", middleware.ScopeQuery)
	chat := api.createChat(t, tok)
	path := "/api/v1/chats/" + chat.ID + "/queries"

	resp := api.do(t, http.MethodPost, path, tok, `{"query": "   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, path, token(t, "tenant-a"), `{"query": "Show total sales"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(t, http.MethodPost, path, tok, `{"query": "Show total sales"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "/api/v1/chats/"+chat.ID+"/stream", resp.Header.Get("X-Stream-URL"))
	submitted := decode[model.SubmitQueryResponse](t, resp)
	assert.Equal(t, "Show total sales", submitted.UserTurn.Content)
	assert.True(t, submitted.AssistantTurn.IsPending())

	resp = api.do(t, http.MethodPost, path, tok, `{"query": "Another question"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(api.analyzer.release)

	require.Eventually(t, func() bool {
		resp := api.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/transcript", tok, "")
		tr := decode[model.TranscriptResponse](t, resp)
		return len(tr.Turns) == 2 && tr.Turns[1].Succeeded()
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		resp := api.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID, tok, "")
		return decode[model.Chat](t, resp).Title == "Show total sales"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestResetClearsTranscript(t *testing.T) {
	api := newTestAPI(t, nil)
	tok := token(t, "tenant-a", middleware.ScopeQuery)
	chat := api.createChat(t, tok)

	resp := api.do(t, http.MethodPost, "/api/v1/chats/"+chat.ID+"/queries", tok, `{"query": "Show total sales"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/v1/chats/"+chat.ID+"/reset", tok, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	close(api.analyzer.release)

	resp = api.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/transcript", tok, "")
	tr := decode[model.TranscriptResponse](t, resp)
	assert.Empty(t, tr.Turns)
	assert.False(t, tr.Session.IsLoading)
}

func TestSchema(t *testing.T) {
	api := newTestAPI(t, nil)
	tok := token(t, "tenant-a")

	resp := api.do(t, http.MethodGet, "/api/v1/schema", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[model.SchemaInfo](t, resp)
	assert.Equal(t, "abc", info.DatabaseHash)

	api.schema.err = backend.NewAPIError(http.StatusInternalServerError, "database unavailable")
	resp = api.do(t, http.MethodGet, "/api/v1/schema", tok, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "database unavailable", body["error"])
}

func TestHistory(t *testing.T) {
	api := newTestAPI(t, nil)
	tok := token(t, "tenant-a")
	chat := api.createChat(t, tok)

	resp := api.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/events", tok, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	api = newTestAPI(t, fakeHistory{})
	chat = api.createChat(t, tok)

	resp = api.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/events?after_sequence=4", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[model.EventHistory](t, resp)
	require.Len(t, history.Events, 1)
	assert.Equal(t, uint64(5), history.LastSequence)
	assert.Equal(t, "tenant-a", history.Events[0].TenantID)

	resp = api.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID+"/events?after_sequence=x", tok, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.do(t, http.MethodGet, "/api/v1/chats", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestReady(t *testing.T) {
	h := NewHealthHandler(map[string]Checker{
		"backend": CheckerFunc(func(ctx context.Context) error { return nil }),
		"nats":    CheckerFunc(func(ctx context.Context) error { return errors.New("NATS not connected") }),
	})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "NATS not connected")

	rec = httptest.NewRecorder()
	NewHealthHandler(nil).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type sseEvent struct {
	name string
	data string
}

func readEvents(scanner *bufio.Scanner, events chan<- sseEvent) {
	var name string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events <- sseEvent{name: name, data: strings.TrimPrefix(line, "data: ")}
		}
	}
	close(events)
}

func TestStream(t *testing.T) {
	api := newTestAPI(t, nil)
	tok := token(t, "tenant-a", middleware.ScopeQuery)
	chat := api.createChat(t, tok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.server.URL+"/api/v1/chats/"+chat.ID+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := api.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent, 64)
	go readEvents(bufio.NewScanner(resp.Body), events)

	next := func() sseEvent {
		t.Helper()
		select {
		case e, ok := <-events:
			require.True(t, ok, "stream closed")
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for SSE event")
			return sseEvent{}
		}
	}

	assert.Equal(t, "connected", next().name)
	assert.Equal(t, "snapshot", next().name)

	submit := api.do(t, http.MethodPost, "/api/v1/chats/"+chat.ID+"/queries", tok, `{"query": "Show total sales"}`)
	require.Equal(t, http.StatusAccepted, submit.StatusCode)
	close(api.analyzer.release)

	seen := map[string]bool{}
	for !seen[string(model.EventTurnResolved)] {
		e := next()
		seen[e.name] = true
		if e.name == string(model.EventTurnResolved) {
			var event model.TranscriptEvent
			require.NoError(t, json.Unmarshal([]byte(e.data), &event))
			require.NotNil(t, event.Turn)
			assert.True(t, event.Turn.Succeeded())
			assert.Equal(t, chat.ID, event.ChatID)
		}
	}
	assert.True(t, seen[string(model.EventTurnAppended)])

	for {
		if e := next(); e.name == "heartbeat" {
			break
		}
	}
}

// openStream connects to a chat's SSE stream and returns its events. The
// channel is closed when the server ends the stream.
func openStream(t *testing.T, api *testAPI, tok, chatID string) <-chan sseEvent {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.server.URL+"/api/v1/chats/"+chatID+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := api.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan sseEvent, 64)
	go readEvents(bufio.NewScanner(resp.Body), events)
	return events
}

// drainUntilClosed collects event names until the server ends the stream.
func drainUntilClosed(t *testing.T, events <-chan sseEvent) []string {
	t.Helper()
	var names []string
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return names
			}
			names = append(names, e.name)
		case <-deadline:
			t.Fatalf("stream did not end, saw %v", names)
			return nil
		}
	}
}

func TestStreamEndsWhenChatDeleted(t *testing.T) {
	api := newTestAPI(t, nil)
	tok := token(t, "tenant-a", middleware.ScopeQuery)
	chat := api.createChat(t, tok)

	events := openStream(t, api, tok, chat.ID)
	assert.Equal(t, "connected", (<-events).name)
	assert.Equal(t, "snapshot", (<-events).name)

	resp := api.do(t, http.MethodDelete, "/api/v1/chats/"+chat.ID, tok, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	names := drainUntilClosed(t, events)
	require.NotEmpty(t, names)
	assert.Equal(t, string(model.EventChatClosed), names[len(names)-1])
}

func TestStreamKeepsWatchedChatAlive(t *testing.T) {
	api := newTestAPIWithOptions(t, nil, service.Options{IdleTTL: 150 * time.Millisecond})
	tok := token(t, "tenant-a", middleware.ScopeQuery)
	chat := api.createChat(t, tok)

	events := openStream(t, api, tok, chat.ID)

	// Heartbeats every 50ms outlast several idle periods.
	heartbeats := 0
	deadline := time.After(3 * time.Second)
	for heartbeats < 8 {
		select {
		case e, ok := <-events:
			require.True(t, ok, "stream closed")
			require.NotEqual(t, string(model.EventChatClosed), e.name)
			if e.name == "heartbeat" {
				heartbeats++
			}
		case <-deadline:
			t.Fatal("timed out waiting for heartbeats")
		}
	}

	resp := api.do(t, http.MethodGet, "/api/v1/chats/"+chat.ID, tok, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamUnknownChat(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.do(t, http.MethodGet, "/api/v1/chats/0190a5f4-3b2c-7d8e-9f00-112233445566/stream", token(t, "tenant-a"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
