package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/copilot-relay/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msg(id string, role domain.Role, content string, tokens int) domain.Message {
	return domain.Message{ID: id, Role: role, Content: content, Timestamp: time.Now(), TokenCount: domain.IntPtr(tokens)}
}

func TestSQLiteModelCatalog(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	got, err := s.FindModel(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.UpsertModel(ctx, &domain.ModelDescriptor{
		Name: "b-model", Kind: domain.ProviderKindRequest, Endpoint: "http://b", MaxTokens: 8000, Active: true, Priority: 2,
	}))
	require.NoError(t, s.UpsertModel(ctx, &domain.ModelDescriptor{
		Name: "a-model", Kind: domain.ProviderKindClient, Endpoint: "http://a", APIKey: "secret",
		SummaryModel: "b-model", Active: true, Priority: 1,
	}))
	require.NoError(t, s.UpsertModel(ctx, &domain.ModelDescriptor{
		Name: "embedder", Kind: domain.ProviderKindRequest, ModelType: "embedding", Active: true,
	}))
	require.NoError(t, s.UpsertModel(ctx, &domain.ModelDescriptor{
		Name: "retired", Kind: domain.ProviderKindRequest, Active: false,
	}))

	m, err := s.FindModel(ctx, "a-model")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, domain.ProviderKindClient, m.Kind)
	assert.Equal(t, "secret", m.APIKey)
	assert.Equal(t, "b-model", m.SummaryModel)
	assert.Equal(t, "chat", m.ModelType)

	chat, err := s.ListModels(ctx, true, "chat")
	require.NoError(t, err)
	require.Len(t, chat, 2)
	assert.Equal(t, "a-model", chat[0].Name)
	assert.Equal(t, "b-model", chat[1].Name)

	all, err := s.ListModels(ctx, false, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSQLiteRagSources(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRagSource(ctx, &domain.RagSource{Name: "papers", Endpoint: "http://rag", Active: true}))
	require.NoError(t, s.UpsertRagSource(ctx, &domain.RagSource{Name: "helpdesk", Backend: domain.RetrievalBackendChromem, Active: true, Priority: -1}))

	r, err := s.FindRagSource(ctx, "papers")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, domain.RetrievalBackendOracle, r.Backend)

	list, err := s.ListRagSources(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "helpdesk", list[0].Name)

	missing, err := s.FindRagSource(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteSessionLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	sess, err := s.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sess)

	err = s.AppendMessages(ctx, "s1", []domain.Message{msg("m0", domain.RoleUser, "orphan", 1)})
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.CreateSession(ctx, "s1", "u1", ""))
	require.NoError(t, s.CreateSession(ctx, "s1", "u2", "Other"), "second create is a no-op")

	first := []domain.Message{msg("m1", domain.RoleUser, "hi", 1), msg("m2", domain.RoleAssistant, "hello", 2)}
	second := []domain.Message{msg("m3", domain.RoleUser, "more", 1)}
	second[0].Documents = []string{"doc a", "doc b"}
	require.NoError(t, s.AppendMessages(ctx, "s1", first))
	require.NoError(t, s.AppendMessages(ctx, "s1", second))

	sess, err = s.FindSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, domain.DefaultSessionTitle, sess.Title)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{sess.Messages[0].ID, sess.Messages[1].ID, sess.Messages[2].ID})
	assert.Equal(t, []string{"doc a", "doc b"}, sess.Messages[2].Documents)
	require.NotNil(t, sess.Messages[1].TokenCount)
	assert.Equal(t, 2, *sess.Messages[1].TokenCount)

	require.NoError(t, s.UpdateSessionTitle(ctx, "s1", "u1", "Greetings"))
	assert.True(t, errors.Is(s.UpdateSessionTitle(ctx, "s1", "intruder", "x"), ErrNotFound))

	require.NoError(t, s.RateSession(ctx, "s1", "u1", 4))
	require.NoError(t, s.RateMessage(ctx, "u1", "m2", -1))
	assert.True(t, errors.Is(s.RateMessage(ctx, "u2", "m2", 1), ErrNotFound))

	sess, err = s.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Greetings", sess.Title)
	require.NotNil(t, sess.Rating)
	assert.Equal(t, 4, *sess.Rating)
	assert.NotNil(t, sess.RatedAt)
	require.NotNil(t, sess.Messages[1].Rating)
	assert.Equal(t, -1, *sess.Messages[1].Rating)

	require.NoError(t, s.UpsertSummary(ctx, "s1", "first"))
	require.NoError(t, s.UpsertSummary(ctx, "s1", "second"))
	sum, err := s.GetSummary(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, "second", sum.Text)

	assert.True(t, errors.Is(s.DeleteSession(ctx, "s1", "u2"), ErrNotFound))
	require.NoError(t, s.DeleteSession(ctx, "s1", "u1"))
	sess, err = s.FindSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sess)
	sum, err = s.GetSummary(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestSQLiteListSessionsPagination(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateSession(ctx, id, "u1", id))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, s.CreateSession(ctx, "other", "u2", ""))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.AppendMessages(ctx, "a", []domain.Message{msg("x", domain.RoleUser, "bump", 1)}))

	page, total, err := s.ListSessions(ctx, "u1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID, "most recently modified first")
	assert.Equal(t, "c", page[1].ID)

	page, _, err = s.ListSessions(ctx, "u1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestSQLiteSavedPrompts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	prompts, err := s.ListPrompts(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, prompts)

	require.NoError(t, s.SavePrompt(ctx, "u1", domain.SavedPrompt{Title: "review", Text: "Review this diff"}))
	require.NoError(t, s.SavePrompt(ctx, "u1", domain.SavedPrompt{Title: "explain", Text: "Explain like I'm five"}))
	require.NoError(t, s.SavePrompt(ctx, "u2", domain.SavedPrompt{Title: "other", Text: "not mine"}))

	prompts, err = s.ListPrompts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	assert.Equal(t, "explain", prompts[0].Title, "most recently saved first")
	assert.Equal(t, "Review this diff", prompts[1].Text)
	assert.False(t, prompts[0].CreatedAt.IsZero())
}

func TestClampPage(t *testing.T) {
	l, o := ClampPage(0, -5)
	assert.Equal(t, 20, l)
	assert.Equal(t, 0, o)
	l, _ = ClampPage(500, 0)
	assert.Equal(t, 100, l)
}
