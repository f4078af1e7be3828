package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/copilot-relay/internal/domain"
)

type fakeSummarizer struct {
	prompts []string
	reply   string
	err     error
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ *domain.ModelDescriptor, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type memSummaries struct {
	data map[string]string
}

func (m *memSummaries) UpsertSummary(_ context.Context, id, text string) error {
	m.data[id] = text
	return nil
}

func (m *memSummaries) GetSummary(_ context.Context, id string) (*domain.Summary, error) {
	text, ok := m.data[id]
	if !ok {
		return nil, nil
	}
	return &domain.Summary{SessionID: id, Text: text}, nil
}

func history(counts ...int) []domain.Message {
	out := make([]domain.Message, len(counts))
	for i, c := range counts {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		out[i] = domain.Message{ID: fmt.Sprintf("m%d", i), Role: role, Content: fmt.Sprintf("msg %d", i), TokenCount: domain.IntPtr(c)}
	}
	return out
}

func sum(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += MessageTokens(m)
	}
	return total
}

func TestWindowBudgetInvariant(t *testing.T) {
	cases := []struct {
		name   string
		counts []int
		query  int
		max    int
	}{
		{"all fit", []int{10, 10, 10}, 5, 1000},
		{"oldest dropped", []int{400, 100, 100}, 50, 1000},
		{"newest too big", []int{10, 10, 900}, 10, 1000},
		{"exact boundary", []int{100, 100}, 300, 1000},
		{"empty", nil, 10, 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := history(tc.counts...)
			retained, dropped := Window(h, tc.query, tc.max)
			assert.Less(t, sum(retained)+tc.query, tc.max-Headroom)
			assert.Equal(t, len(h), len(retained)+len(dropped))
			if len(retained) > 0 {
				assert.Equal(t, h[len(h)-1].ID, retained[len(retained)-1].ID, "retained is a suffix")
			}
		})
	}
}

func TestWindowStopsAtFirstOverflow(t *testing.T) {
	// m1 does not fit, so m0 is dropped even though it alone would.
	h := history(1, 480, 10)
	retained, dropped := Window(h, 10, 1000)
	require.Len(t, retained, 1)
	assert.Equal(t, "m2", retained[0].ID)
	assert.Len(t, dropped, 2)
}

func TestWindowEstimatesMissingCounts(t *testing.T) {
	h := []domain.Message{{Role: domain.RoleUser, Content: strings.Repeat("a", 2000)}}
	retained, dropped := Window(h, 0, 1000)
	assert.Empty(t, retained)
	assert.Len(t, dropped, 1)
}

func TestZeroCountOnContentIsEstimated(t *testing.T) {
	long := strings.Repeat("a", 2000)
	assert.Equal(t, 500, MessageTokens(domain.Message{Content: long, TokenCount: domain.IntPtr(0)}))
	assert.Equal(t, 0, MessageTokens(domain.Message{TokenCount: domain.IntPtr(0)}))
	assert.Equal(t, 7, MessageTokens(domain.Message{Content: long, TokenCount: domain.IntPtr(7)}))

	retained, dropped := Window([]domain.Message{{Role: domain.RoleUser, Content: long, TokenCount: domain.IntPtr(0)}}, 0, 1000)
	assert.Empty(t, retained)
	assert.Len(t, dropped, 1)
}

func TestSummaryRunIsContiguousAndMostRecent(t *testing.T) {
	dropped := history(100, 300, 200, 100)
	run := SummaryRun(dropped, 1000)
	// Budget is 1000-500-64 = 436: m3 and m2 fit (300), adding m1 exceeds.
	require.Len(t, run, 2)
	assert.Equal(t, "m2", run[0].ID)
	assert.Equal(t, "m3", run[1].ID)
}

func TestAssemble(t *testing.T) {
	assert.Equal(t, "hi", Assemble("", nil, "hi"))

	h := history(1, 1)
	assert.Equal(t,
		"Previous conversation:\nuser: msg 0\nassistant: msg 1\n\nNew query:\nhi",
		Assemble("", h, "hi"))

	assert.Equal(t,
		"Summary of earlier conversation:\nearlier\n\nNew query:\nhi",
		Assemble("earlier", nil, "hi"))
}

func TestComposeSummarizesDroppedHistory(t *testing.T) {
	sumr := &fakeSummarizer{reply: "  they greeted  "}
	store := &memSummaries{data: map[string]string{}}
	c := New(sumr, store, nil, nil)

	res := c.Compose(context.Background(), Request{
		SessionID:   "s1",
		Query:       "next",
		QueryTokens: 10,
		History:     history(200, 200, 200),
		Model:       &domain.ModelDescriptor{Name: "m", MaxTokens: 1000},
	})

	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Summarized)
	assert.Equal(t, "they greeted", res.Summary)
	assert.Equal(t, "they greeted", store.data["s1"])
	require.Len(t, sumr.prompts, 1)
	assert.Equal(t, "Summarize the following conversation briefly:\n\nuser: msg 0", sumr.prompts[0])
	assert.True(t, strings.HasPrefix(res.Prompt, "Summary of earlier conversation:\nthey greeted\n\nPrevious conversation:\n"))
	assert.True(t, strings.HasSuffix(res.Prompt, "New query:\nnext"))
}

func TestComposeSummarizationFailureIsNotFatal(t *testing.T) {
	sumr := &fakeSummarizer{err: errors.New("backend down")}
	store := &memSummaries{data: map[string]string{}}
	c := New(sumr, store, nil, nil)

	res := c.Compose(context.Background(), Request{
		SessionID:   "s1",
		Query:       "next",
		QueryTokens: 10,
		History:     history(200, 200, 200),
		Model:       &domain.ModelDescriptor{Name: "m", MaxTokens: 1000},
	})

	assert.Empty(t, res.Summary)
	assert.Empty(t, store.data)
	assert.True(t, strings.HasPrefix(res.Prompt, "Previous conversation:\n"))
}

func TestComposeFallsBackToStoredSummary(t *testing.T) {
	store := &memSummaries{data: map[string]string{"s1": "old summary"}}
	c := New(&fakeSummarizer{err: errors.New("down")}, store, nil, nil)

	res := c.Compose(context.Background(), Request{
		SessionID: "s1", Query: "q", QueryTokens: 1,
		History: history(900, 1),
		Model:   &domain.ModelDescriptor{Name: "m", MaxTokens: 1000},
	})
	assert.Equal(t, "old summary", res.Summary)
}

func TestComposeEmptyHistoryIsQuery(t *testing.T) {
	c := New(nil, nil, nil, nil)
	res := c.Compose(context.Background(), Request{Query: "Hello", QueryTokens: 1, Model: &domain.ModelDescriptor{Name: "m"}})
	assert.Equal(t, "Hello", res.Prompt)
	assert.Zero(t, res.Dropped)
}

func TestComposeDelegatesToOracle(t *testing.T) {
	var got formatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"prompt_query": "formatted"})
	}))
	defer srv.Close()

	sumr := &fakeSummarizer{reply: "unused"}
	c := New(sumr, nil, NewPromptOracle(srv.URL, 0), nil)
	res := c.Compose(context.Background(), Request{
		Query: "q", QueryTokens: 1, History: history(900, 900), SystemPrompt: "sys",
		Model: &domain.ModelDescriptor{Name: "m", MaxTokens: 2000},
	})

	assert.True(t, res.Delegated)
	assert.Equal(t, "formatted", res.Prompt)
	assert.Empty(t, sumr.prompts, "delegation skips local summarization")
	assert.Equal(t, "q", got.Query)
	assert.Equal(t, "sys", got.SystemPrompt)
	assert.Equal(t, 2000, got.MaxTokens)
	assert.Len(t, got.Messages, 2)
}

func TestComposeFallsBackWhenOracleFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(nil, nil, NewPromptOracle(srv.URL, 0), nil)
	res := c.Compose(context.Background(), Request{
		Query: "q", QueryTokens: 1, History: history(1, 1),
		Model: &domain.ModelDescriptor{Name: "m"},
	})
	assert.False(t, res.Delegated)
	assert.Equal(t, "Previous conversation:\nuser: msg 0\nassistant: msg 1\n\nNew query:\nq", res.Prompt)
}

func TestNewPromptOracleDisabled(t *testing.T) {
	assert.Nil(t, NewPromptOracle("", 0))
}
