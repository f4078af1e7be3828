//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/engine"
)

type fakeEngine struct {
	mu       sync.Mutex
	turns    []engine.TurnRequest
	turnErr  error
	opErr    error
	listArgs [3]any
	rated    []int
	prompts  []domain.SavedPrompt
	promptOf []string
}

func (f *fakeEngine) HandleTurn(_ context.Context, req engine.TurnRequest) (*engine.TurnResult, error) {
	f.mu.Lock()
	f.turns = append(f.turns, req)
	f.mu.Unlock()
	if f.turnErr != nil {
		return nil, f.turnErr
	}
	res := &engine.TurnResult{
		Response:         "answer",
		UserMessage:      domain.Message{ID: "u", Role: domain.RoleUser, Content: req.Query},
		AssistantMessage: domain.Message{ID: "a", Role: domain.RoleAssistant, Content: "answer"},
		Persisted:        req.Save,
	}
	if req.RagDB != "" {
		res.Documents = []string{"doc"}
		res.SystemMessage = &domain.Message{ID: "s", Role: domain.RoleSystem, Documents: res.Documents}
	}
	return res, nil
}

func (f *fakeEngine) recorded() []engine.TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.TurnRequest(nil), f.turns...)
}

func (f *fakeEngine) StartSession() string { return "new-session" }

func (f *fakeEngine) SessionMessages(context.Context, string, string) ([]domain.Message, error) {
	return []domain.Message{{ID: "m1"}}, f.opErr
}

func (f *fakeEngine) SessionTitle(context.Context, string, string) (string, error) {
	return "Untitled", f.opErr
}

func (f *fakeEngine) ListSessions(_ context.Context, userID string, limit, offset int) ([]*domain.Session, int, error) {
	f.listArgs = [3]any{userID, limit, offset}
	return []*domain.Session{{ID: "s1"}}, 7, f.opErr
}

func (f *fakeEngine) UpdateTitle(context.Context, string, string, string) error { return f.opErr }
func (f *fakeEngine) DeleteSession(context.Context, string, string) error       { return f.opErr }

func (f *fakeEngine) RateConversation(_ context.Context, _, _ string, rating int) error {
	f.rated = append(f.rated, rating)
	return f.opErr
}

func (f *fakeEngine) RateMessage(_ context.Context, _, _ string, rating int) error {
	f.rated = append(f.rated, rating)
	return f.opErr
}

func (f *fakeEngine) GenerateTitle(context.Context, string, []string) (string, error) {
	return "A Title", f.opErr
}

func (f *fakeEngine) ListModels(context.Context) (*engine.ModelList, error) {
	return &engine.ModelList{
		Models:     []*domain.ModelDescriptor{{Name: "demo", APIKey: "secret"}},
		RagSources: []*domain.RagSource{{Name: "papers", APIKey: "secret"}},
	}, f.opErr
}

func (f *fakeEngine) SavePrompt(_ context.Context, userID, title, text string) (*domain.SavedPrompt, error) {
	if f.opErr != nil {
		return nil, f.opErr
	}
	p := domain.SavedPrompt{Title: title, Text: text}
	f.prompts = append([]domain.SavedPrompt{p}, f.prompts...)
	f.promptOf = append(f.promptOf, userID)
	return &p, nil
}

func (f *fakeEngine) ListPrompts(_ context.Context, userID string) ([]domain.SavedPrompt, error) {
	f.promptOf = append(f.promptOf, userID)
	return f.prompts, f.opErr
}

func newTestRouter(t *testing.T, e Engine, opts Options) http.Handler {
	t.Helper()
	h := NewHandler(e, opts, nil)
	t.Cleanup(h.Close)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindInvalidInput:       http.StatusBadRequest,
		domain.KindUnknownModel:       http.StatusBadRequest,
		domain.KindUnknownRagSource:   http.StatusBadRequest,
		domain.KindNotFound:           http.StatusNotFound,
		domain.KindTokenLimitExceeded: http.StatusRequestEntityTooLarge,
		domain.KindProvider:           http.StatusBadGateway,
		domain.KindRetrieval:          http.StatusBadGateway,
		domain.KindPersistence:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := StatusFor(kind); got != want {
			t.Errorf("StatusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestChatRoute(t *testing.T) {
	fe := &fakeEngine{}
	router := newTestRouter(t, fe, Options{})

	rec := post(t, router, "/api/chat/chat", map[string]any{
		"query": "Hello", "model": "demo", "session_id": "s1", "user_id": "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "success", got["message"])
	assert.Equal(t, "answer", got["response"])
	assert.Equal(t, true, got["persisted"])
	assert.NotContains(t, got, "systemMessage")
	assert.Contains(t, got, "userMessage")
	assert.Contains(t, got, "assistantMessage")

	require.Len(t, fe.turns, 1)
	turn := fe.turns[0]
	assert.Equal(t, "u1", turn.UserID)
	assert.True(t, turn.Save)
	assert.True(t, turn.IncludeHistory)
	assert.Equal(t, "chat_http", turn.Channel)
}

func TestChatOnlyRoute(t *testing.T) {
	fe := &fakeEngine{}
	router := newTestRouter(t, fe, Options{})

	rec := post(t, router, "/api/chat/chat-only", map[string]any{
		"query": "Hello", "model": "demo", "save_chat": true, "rag_db": "papers",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fe.turns, 1)
	assert.False(t, fe.turns[0].Save)
	assert.False(t, fe.turns[0].IncludeHistory)
	assert.Empty(t, fe.turns[0].RagDB)
	assert.True(t, fe.turns[0].NoRAG)
	assert.Equal(t, "anonymous", fe.turns[0].UserID)
}

func TestRagRoute(t *testing.T) {
	fe := &fakeEngine{}
	router := newTestRouter(t, fe, Options{})

	rec := post(t, router, "/api/chat/rag", map[string]any{"query": "q", "model": "demo", "session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"InvalidInput"`)
	assert.Empty(t, fe.turns)

	rec = post(t, router, "/api/chat/rag", map[string]any{
		"query": "q", "model": "demo", "session_id": "s1", "rag_db": "papers", "num_docs": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"documents":["doc"]`)
	assert.Equal(t, 5, fe.turns[0].NumDocs)
}

func TestChatImageRoute(t *testing.T) {
	fe := &fakeEngine{}
	router := newTestRouter(t, fe, Options{})

	rec := post(t, router, "/api/chat/chat-image", map[string]any{"query": "q", "model": "demo", "session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, router, "/api/chat/chat-image", map[string]any{
		"query": "q", "model": "demo", "session_id": "s1", "image": "https://example.com/cat.png",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.com/cat.png", fe.turns[0].Image)
	assert.False(t, fe.turns[0].IncludeHistory)
	assert.True(t, fe.turns[0].Save)
}

func TestChatErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{domain.Errorf(domain.KindTokenLimitExceeded, "too long"), http.StatusRequestEntityTooLarge, "TokenLimitExceeded"},
		{domain.Errorf(domain.KindUnknownModel, "unknown model"), http.StatusBadRequest, "UnknownModel"},
		{domain.NewError(domain.KindProvider, "model demo", assert.AnError), http.StatusBadGateway, "ProviderError"},
		{assert.AnError, http.StatusInternalServerError, "PersistenceError"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			router := newTestRouter(t, &fakeEngine{turnErr: tc.err}, Options{})
			rec := post(t, router, "/api/chat/chat", map[string]any{"query": "q", "model": "demo", "session_id": "s1"})
			assert.Equal(t, tc.status, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.kind, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestRequestBodyLimit(t *testing.T) {
	router := newTestRouter(t, &fakeEngine{}, Options{MaxRequestBodySize: 64})
	rec := post(t, router, "/api/chat/chat", map[string]any{"query": strings.Repeat("x", 200), "model": "demo"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/chat", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRateLimit(t *testing.T) {
	router := newTestRouter(t, &fakeEngine{}, Options{RateLimitRequests: 1, RateLimitWindow: time.Hour})
	body := map[string]any{"query": "q", "model": "demo", "session_id": "s1"}

	assert.Equal(t, http.StatusOK, post(t, router, "/api/chat/chat", body).Code)
	rec := post(t, router, "/api/chat/chat", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")

	ok, retryAfter := rl.Reserve("a")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, 50*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
}

func TestSessionRoutes(t *testing.T) {
	fe := &fakeEngine{}
	router := newTestRouter(t, fe, Options{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/start-chat", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session_id":"new-session"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/get-all-sessions?user_id=u1&limit=5&offset=10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":7`)
	assert.Equal(t, [3]any{"u1", 5, 10}, fe.listArgs)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/get-all-sessions?limit=many", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/get-session-messages?session_id=s1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message_id":"m1"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/get-session-title?session_id=s1", nil))
	assert.Contains(t, rec.Body.String(), `"title":"Untitled"`)

	rec = post(t, router, "/api/chat/rate-conversation", map[string]any{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = post(t, router, "/api/chat/rate-conversation", map[string]any{"session_id": "s1", "rating": 4})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = post(t, router, "/api/chat/rate-message", map[string]any{"message_id": "m1", "rating": -1})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{4, -1}, fe.rated)

	rec = post(t, router, "/api/chat/generate-title-from-messages", map[string]any{"model": "demo", "messages": []string{"hi"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"response":"A Title"`)
}

func TestPromptRoutes(t *testing.T) {
	fe := &fakeEngine{}
	router := newTestRouter(t, fe, Options{})

	rec := post(t, router, "/api/chat/save-prompt", map[string]any{"name": "review", "text": "Review this diff", "user_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"review"`)
	assert.Contains(t, rec.Body.String(), `"content":"Review this diff"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/get-user-prompts?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Prompts []domain.SavedPrompt `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Prompts, 1)
	assert.Equal(t, "Review this diff", got.Prompts[0].Text)
	assert.Equal(t, []string{"u1", "u1"}, fe.promptOf)

	fe.opErr = domain.Errorf(domain.KindInvalidInput, "name is required")
	rec = post(t, router, "/api/chat/save-prompt", map[string]any{"text": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionRouteNotFound(t *testing.T) {
	router := newTestRouter(t, &fakeEngine{opErr: domain.Errorf(domain.KindNotFound, "session s1 not found")}, Options{})

	rec := post(t, router, "/api/chat/delete-session", map[string]any{"session_id": "s1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"NotFound"`)
}

func TestModelListHidesCredentials(t *testing.T) {
	router := newTestRouter(t, &fakeEngine{}, Options{})
	rec := post(t, router, "/api/db/get-model-list", map[string]any{})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"vdb_list"`)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestChatSocket(t *testing.T) {
	fe := &fakeEngine{}
	srv := httptest.NewServer(newTestRouter(t, fe, Options{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat", nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{
		"mode": "rag", "query": "q", "model": "demo", "session_id": "s1", "rag_db": "papers",
	}))
	var reply map[string]any
	require.NoError(t, wsjson.Read(ctx, ws, &reply))
	assert.Equal(t, "result", reply["type"])
	assert.Equal(t, "success", reply["message"])
	assert.Equal(t, "answer", reply["response"])

	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{"mode": "image", "query": "q", "model": "demo"}))
	reply = nil
	require.NoError(t, wsjson.Read(ctx, ws, &reply))
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "InvalidInput", reply["error"])

	turns := fe.recorded()
	require.Len(t, turns, 1)
	assert.Equal(t, "chat_ws", turns[0].Channel)
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"*"}, originPatterns(nil))
	assert.Equal(t, []string{"app.local:3000"}, originPatterns([]string{"http://app.local:3000"}))
}
