package api

import (
	"net/http"

	"github.com/ashureev/copilot-relay/internal/identity"
)

type promptRequest struct {
	Name   string `json:"name"`
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}

// HandleListPrompts handles GET /api/chat/get-user-prompts?user_id=.
func (h *Handler) HandleListPrompts(w http.ResponseWriter, r *http.Request) {
	userID := identity.ResolveUserID(r.Context(), r.URL.Query().Get("user_id"))
	prompts, err := h.engine.ListPrompts(r.Context(), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"prompts": prompts})
}

// HandleSavePrompt handles POST /api/chat/save-prompt.
func (h *Handler) HandleSavePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	userID := identity.ResolveUserID(r.Context(), req.UserID)
	p, err := h.engine.SavePrompt(r.Context(), userID, req.Name, req.Text)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"message": "Prompt saved successfully",
		"title":   p.Title,
		"content": p.Text,
	})
}
