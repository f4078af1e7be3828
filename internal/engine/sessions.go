package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/store"
)

const titleInstruction = "Provide a concise, descriptive title based on the content of the messages:\n\n"

// Rating bounds.
const (
	MinConversationRating = 1
	MaxConversationRating = 5
	MinMessageRating      = -1
	MaxMessageRating      = 1
)

// StartSession returns a fresh session id. The session itself is created on its first saved turn.
func (e *Engine) StartSession() string {
	return uuid.NewString()
}

// SessionMessages returns the messages of a session owned by userID.
func (e *Engine) SessionMessages(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	s, err := e.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if s.Messages == nil {
		return []domain.Message{}, nil
	}
	return s.Messages, nil
}

// SessionTitle returns the title of a session owned by userID.
func (e *Engine) SessionTitle(ctx context.Context, sessionID, userID string) (string, error) {
	s, err := e.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return "", err
	}
	return s.Title, nil
}

func (e *Engine) ownedSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "session_id is required")
	}
	s, err := e.sessions.FindSession(ctx, sessionID)
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistence, "load session", err)
	}
	if s == nil || !ownedBy(s, userID) {
		return nil, domain.Errorf(domain.KindNotFound, "session %s not found", sessionID)
	}
	return s, nil
}

// ListSessions returns a page of the user's sessions and their total count.
func (e *Engine) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*domain.Session, int, error) {
	if userID == "" {
		return nil, 0, domain.Errorf(domain.KindInvalidInput, "user_id is required")
	}
	limit, offset = store.ClampPage(limit, offset)
	sessions, total, err := e.sessions.ListSessions(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, domain.Wrap(domain.KindPersistence, "list sessions", err)
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	return sessions, total, nil
}

// UpdateTitle renames a session owned by userID.
func (e *Engine) UpdateTitle(ctx context.Context, sessionID, userID, title string) error {
	title = strings.TrimSpace(title)
	if sessionID == "" || title == "" {
		return domain.Errorf(domain.KindInvalidInput, "session_id and title are required")
	}
	if err := e.sessions.UpdateSessionTitle(ctx, sessionID, userID, title); err != nil {
		return storeError("session", err)
	}
	return nil
}

// DeleteSession removes a session owned by userID.
func (e *Engine) DeleteSession(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" {
		return domain.Errorf(domain.KindInvalidInput, "session_id is required")
	}
	if err := e.sessions.DeleteSession(ctx, sessionID, userID); err != nil {
		return storeError("session", err)
	}
	e.logger.Info("Session deleted", "user_id", userID, "session_id", sessionID)
	return nil
}

// RateConversation stores a 1..5 rating on a session.
func (e *Engine) RateConversation(ctx context.Context, sessionID, userID string, rating int) error {
	if sessionID == "" {
		return domain.Errorf(domain.KindInvalidInput, "session_id is required")
	}
	if rating < MinConversationRating || rating > MaxConversationRating {
		return domain.Errorf(domain.KindInvalidInput, "rating must be between %d and %d", MinConversationRating, MaxConversationRating)
	}
	if err := e.sessions.RateSession(ctx, sessionID, userID, rating); err != nil {
		return storeError("session", err)
	}
	return nil
}

// RateMessage stores a -1..1 rating on a message in one of the user's sessions.
func (e *Engine) RateMessage(ctx context.Context, userID, messageID string, rating int) error {
	if messageID == "" {
		return domain.Errorf(domain.KindInvalidInput, "message_id is required")
	}
	if rating < MinMessageRating || rating > MaxMessageRating {
		return domain.Errorf(domain.KindInvalidInput, "rating must be between %d and %d", MinMessageRating, MaxMessageRating)
	}
	if err := e.sessions.RateMessage(ctx, userID, messageID, rating); err != nil {
		return storeError("message", err)
	}
	return nil
}

// GenerateTitle asks the model for a title summarizing messages.
func (e *Engine) GenerateTitle(ctx context.Context, modelName string, messages []string) (string, error) {
	if len(messages) == 0 {
		return "", domain.Errorf(domain.KindInvalidInput, "messages are required")
	}
	model, err := e.resolveModel(ctx, modelName)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, "message: "+m)
	}
	title, err := e.dispatcher.Dispatch(ctx, model, "", titleInstruction+strings.Join(parts, "\n\n"), "")
	if err != nil {
		return "", domain.Wrap(domain.KindProvider, "generate title", err)
	}
	return strings.TrimSpace(title), nil
}

// ModelList is the catalog view offered to clients.
type ModelList struct {
	Models     []*domain.ModelDescriptor `json:"models"`
	RagSources []*domain.RagSource       `json:"vdb_list"`
}

// ListModels returns the active chat models and RAG sources, ordered by priority.
func (e *Engine) ListModels(ctx context.Context) (*ModelList, error) {
	models, err := e.catalog.ListModels(ctx, true, "chat")
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistence, "list models", err)
	}
	sources, err := e.catalog.ListRagSources(ctx, true)
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistence, "list rag sources", err)
	}
	if models == nil {
		models = []*domain.ModelDescriptor{}
	}
	if sources == nil {
		sources = []*domain.RagSource{}
	}
	return &ModelList{Models: models, RagSources: sources}, nil
}
