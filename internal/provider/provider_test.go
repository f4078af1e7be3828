package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/ashureev/copilot-relay/internal/domain"
)

type fakeChatModel struct {
	messages []llms.MessageContent
	reply    string
	err      error
}

func (f *fakeChatModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

// captureServer records the decoded JSON body of every request.
func captureServer(t *testing.T, status int, reply any) (*httptest.Server, *atomic.Int32, func() map[string]any) {
	t.Helper()
	var hits atomic.Int32
	var last atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		last.Store(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, func() map[string]any {
		v, _ := last.Load().(map[string]any)
		return v
	}
}

func completion(text string) map[string]any {
	return map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": text}}}}
}

func TestClientKindUsesChatModelAndNoRawPost(t *testing.T) {
	srv, hits, _ := captureServer(t, http.StatusOK, completion("raw"))
	fake := &fakeChatModel{reply: "Hi there"}
	r := NewRouter(WithChatModelFactory(func(*domain.ModelDescriptor) (ChatModel, error) { return fake, nil }))

	d := &domain.ModelDescriptor{Name: "demo-model", Kind: domain.ProviderKindClient, Endpoint: srv.URL, APIKey: "k", MaxTokens: 1000}
	got, err := r.Dispatch(context.Background(), d, "", "Hello", "")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", got)
	assert.Equal(t, int32(0), hits.Load(), "client kind must not issue a raw POST")

	require.Len(t, fake.messages, 1)
	assert.Equal(t, llms.ChatMessageTypeHuman, fake.messages[0].Role)
	assert.Equal(t, llms.TextContent{Text: "Hello"}, fake.messages[0].Parts[0])
}

func TestClientKindIncludesSystemPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: "ok"}
	r := NewRouter(WithChatModelFactory(func(*domain.ModelDescriptor) (ChatModel, error) { return fake, nil }))
	d := &domain.ModelDescriptor{Name: "m", Kind: domain.ProviderKindClient, APIKey: "k"}

	_, err := r.Dispatch(context.Background(), d, "be brief", "q", "")
	require.NoError(t, err)
	require.Len(t, fake.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.messages[0].Role)
}

func TestClientKindErrors(t *testing.T) {
	tests := []struct {
		name string
		d    *domain.ModelDescriptor
		fake *fakeChatModel
	}{
		{"missing key", &domain.ModelDescriptor{Name: "m", Kind: domain.ProviderKindClient}, &fakeChatModel{reply: "x"}},
		{"empty content", &domain.ModelDescriptor{Name: "m", Kind: domain.ProviderKindClient, APIKey: "k"}, &fakeChatModel{}},
		{"backend error", &domain.ModelDescriptor{Name: "m", Kind: domain.ProviderKindClient, APIKey: "k"}, &fakeChatModel{err: errors.New("429 Too Many Requests")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(WithChatModelFactory(func(*domain.ModelDescriptor) (ChatModel, error) { return tt.fake, nil }))
			_, err := r.Dispatch(context.Background(), tt.d, "", "q", "")
			require.Error(t, err)
			assert.True(t, domain.HasKind(err, domain.KindProvider))
		})
	}
}

func TestRequestKindGenericShape(t *testing.T) {
	srv, hits, body := captureServer(t, http.StatusOK, completion("generic reply"))
	r := NewRouter()
	d := &domain.ModelDescriptor{Name: "llama", Kind: domain.ProviderKindRequest, Endpoint: srv.URL}

	got, err := r.Dispatch(context.Background(), d, "sys", "question", "")
	require.NoError(t, err)
	assert.Equal(t, "generic reply", got)
	assert.Equal(t, int32(1), hits.Load())

	b := body()
	assert.Equal(t, "llama", b["model"])
	assert.Equal(t, 1.0, b["temperature"])
	msgs, ok := b["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "question", msgs[1].(map[string]any)["content"])
}

func TestRequestKindFallsBackToResponseField(t *testing.T) {
	srv, _, _ := captureServer(t, http.StatusOK, map[string]any{"response": "top level"})
	r := NewRouter()
	d := &domain.ModelDescriptor{Name: "custom", Kind: domain.ProviderKindRequest, Endpoint: srv.URL}

	got, err := r.Dispatch(context.Background(), d, "", "q", "")
	require.NoError(t, err)
	assert.Equal(t, "top level", got)
}

func TestLegacyModelWireShape(t *testing.T) {
	srv, _, body := captureServer(t, http.StatusOK, map[string]any{"response": "legacy reply"})
	r := NewRouter(WithLegacyUser("tester"))
	d := &domain.ModelDescriptor{Name: LegacyModelName, Kind: domain.ProviderKindRequest, Endpoint: srv.URL}

	got, err := r.Dispatch(context.Background(), d, "", "the prompt", "")
	require.NoError(t, err)
	assert.Equal(t, "legacy reply", got)

	b := body()
	assert.Contains(t, b, "system")
	assert.Equal(t, []any{"the prompt"}, b["prompt"])
	assert.Equal(t, "tester", b["user"])
	assert.NotContains(t, b, "messages")
}

func TestLegacyModelRequiresResponseField(t *testing.T) {
	srv, _, _ := captureServer(t, http.StatusOK, completion("wrong shape"))
	r := NewRouter()
	d := &domain.ModelDescriptor{Name: LegacyModelName, Kind: domain.ProviderKindRequest, Endpoint: srv.URL}

	_, err := r.Dispatch(context.Background(), d, "", "q", "")
	assert.True(t, domain.HasKind(err, domain.KindProvider))
}

func TestRequestKindFoldsStatusLine(t *testing.T) {
	srv, _, _ := captureServer(t, http.StatusBadGateway, map[string]string{"detail": "upstream down"})
	r := NewRouter()
	d := &domain.ModelDescriptor{Name: "llama", Kind: domain.ProviderKindRequest, Endpoint: srv.URL}

	_, err := r.Dispatch(context.Background(), d, "", "q", "")
	require.Error(t, err)
	assert.True(t, domain.HasKind(err, domain.KindProvider))
	assert.Contains(t, err.Error(), "502 Bad Gateway")
}

func TestMissingFieldsAndUnknownKind(t *testing.T) {
	r := NewRouter()

	_, err := r.Dispatch(context.Background(), &domain.ModelDescriptor{Name: "llama", Kind: domain.ProviderKindRequest}, "", "q", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")

	_, err = r.Dispatch(context.Background(), &domain.ModelDescriptor{Name: "x", Kind: "grpc", Endpoint: "http://x"}, "", "q", "")
	require.Error(t, err)
	assert.True(t, domain.HasKind(err, domain.KindProvider))
	assert.Contains(t, err.Error(), "unsupported dispatch kind")

	_, err = r.Dispatch(context.Background(), nil, "", "q", "")
	assert.True(t, domain.HasKind(err, domain.KindProvider))
}

func TestTimeoutIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := NewRouter(WithTimeout(50 * time.Millisecond))
	d := &domain.ModelDescriptor{Name: "slow", Kind: domain.ProviderKindRequest, Endpoint: srv.URL}
	_, err := r.Dispatch(context.Background(), d, "", "q", "")
	require.Error(t, err)
	assert.True(t, domain.HasKind(err, domain.KindProvider))
	assert.Contains(t, err.Error(), "timed out")
}

func TestImageModeOverridesKind(t *testing.T) {
	srv, hits, body := captureServer(t, http.StatusOK, completion("a cat"))
	fake := &fakeChatModel{reply: "should not be used"}
	r := NewRouter(WithChatModelFactory(func(*domain.ModelDescriptor) (ChatModel, error) { return fake, nil }))

	d := &domain.ModelDescriptor{Name: "vision", Kind: domain.ProviderKindClient, Endpoint: srv.URL, APIKey: "k"}
	got, err := r.Dispatch(context.Background(), d, "", "what is this?", "data:image/png;base64,AAAA")
	require.NoError(t, err)
	assert.Equal(t, "a cat", got)
	assert.Equal(t, int32(1), hits.Load())
	assert.Nil(t, fake.messages)

	b := body()
	assert.Equal(t, 0.7, b["temperature"])
	assert.Equal(t, float64(1000), b["max_tokens"])
	msgs := b["messages"].([]any)
	require.Len(t, msgs, 1)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
	assert.Equal(t, "data:image/png;base64,AAAA", parts[1].(map[string]any)["image_url"].(map[string]any)["url"])
}

func TestImageEndpoint(t *testing.T) {
	assert.Equal(t, "http://h/v1/chat/completions", imageEndpoint(&domain.ModelDescriptor{Kind: domain.ProviderKindClient, Endpoint: "http://h/v1/"}))
	assert.Equal(t, "http://h/v1/chat/completions", imageEndpoint(&domain.ModelDescriptor{Kind: domain.ProviderKindClient, Endpoint: "http://h/v1/chat/completions"}))
	assert.Equal(t, "http://h/chat", imageEndpoint(&domain.ModelDescriptor{Kind: domain.ProviderKindRequest, Endpoint: "http://h/chat"}))
}
