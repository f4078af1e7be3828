// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// ErrNotFound is returned by updates and deletes that matched nothing.
// Lookups return (nil, nil) for a missing record instead.
var ErrNotFound = errors.New("not found")

// Catalog resolves model and RAG source descriptors.
type Catalog interface {
	// FindModel returns the descriptor named name, or nil if none exists.
	FindModel(ctx context.Context, name string) (*domain.ModelDescriptor, error)

	// FindRagSource returns the RAG source named name, or nil if none exists.
	FindRagSource(ctx context.Context, name string) (*domain.RagSource, error)

	// ListModels returns models ordered by priority. Empty modelType matches all.
	ListModels(ctx context.Context, activeOnly bool, modelType string) ([]*domain.ModelDescriptor, error)

	// ListRagSources returns RAG sources ordered by priority.
	ListRagSources(ctx context.Context, activeOnly bool) ([]*domain.RagSource, error)

	// UpsertModel creates or replaces a model descriptor.
	UpsertModel(ctx context.Context, m *domain.ModelDescriptor) error

	// UpsertRagSource creates or replaces a RAG source descriptor.
	UpsertRagSource(ctx context.Context, s *domain.RagSource) error
}

// SessionStore is the append-only conversation log.
type SessionStore interface {
	// FindSession returns the session with its messages in append order, or nil if absent.
	FindSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// CreateSession creates an empty session. Creating an existing session is a no-op.
	CreateSession(ctx context.Context, sessionID, userID, title string) error

	// AppendMessages atomically appends msgs and bumps last_modified.
	// Returns ErrNotFound if the session does not exist.
	AppendMessages(ctx context.Context, sessionID string, msgs []domain.Message) error

	// ListSessions returns a page of a user's sessions, newest activity first, without
	// messages, and the user's total session count.
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*domain.Session, int, error)

	// UpdateSessionTitle sets the title of a session owned by userID.
	UpdateSessionTitle(ctx context.Context, sessionID, userID, title string) error

	// DeleteSession removes a session owned by userID together with its messages and summary.
	DeleteSession(ctx context.Context, sessionID, userID string) error

	// RateSession sets the rating and rated_at of a session owned by userID.
	RateSession(ctx context.Context, sessionID, userID string, rating int) error

	// RateMessage sets the rating of a message in one of userID's sessions.
	RateMessage(ctx context.Context, userID, messageID string, rating int) error
}

// SummaryStore keeps at most one summary per session.
type SummaryStore interface {
	// UpsertSummary creates or overwrites the session's summary.
	UpsertSummary(ctx context.Context, sessionID, text string) error

	// GetSummary returns the session's summary, or nil if none exists.
	GetSummary(ctx context.Context, sessionID string) (*domain.Summary, error)
}

// PromptStore keeps each user's saved prompts.
type PromptStore interface {
	// SavePrompt appends p to userID's saved prompts.
	SavePrompt(ctx context.Context, userID string, p domain.SavedPrompt) error

	// ListPrompts returns userID's saved prompts, most recently saved first.
	ListPrompts(ctx context.Context, userID string) ([]domain.SavedPrompt, error)
}

// Repository is the full persistence surface used by the service.
type Repository interface {
	Catalog
	SessionStore
	SummaryStore
	PromptStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// ClampPage normalizes list pagination: limit in [1,100] defaulting to 20, offset >= 0.
func ClampPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
