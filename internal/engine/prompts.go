package engine

import (
	"context"
	"strings"
	"time"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// SavePrompt stores a named prompt for userID and returns it.
func (e *Engine) SavePrompt(ctx context.Context, userID, title, text string) (*domain.SavedPrompt, error) {
	if userID == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "user_id is required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "name is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "text is required")
	}
	if e.prompts == nil {
		return nil, domain.Errorf(domain.KindPersistence, "prompt storage is not configured")
	}

	p := domain.SavedPrompt{Title: title, Text: text, CreatedAt: time.Now().UTC()}
	if err := e.prompts.SavePrompt(ctx, userID, p); err != nil {
		return nil, domain.Wrap(domain.KindPersistence, "save prompt", err)
	}
	return &p, nil
}

// ListPrompts returns userID's saved prompts, newest first.
func (e *Engine) ListPrompts(ctx context.Context, userID string) ([]domain.SavedPrompt, error) {
	if userID == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "user_id is required")
	}
	if e.prompts == nil {
		return []domain.SavedPrompt{}, nil
	}
	prompts, err := e.prompts.ListPrompts(ctx, userID)
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistence, "list prompts", err)
	}
	if prompts == nil {
		prompts = []domain.SavedPrompt{}
	}
	return prompts, nil
}
