package api

import (
	"net/http"
	"strconv"

	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/identity"
)

// HandleStartChat handles GET /api/chat/start-chat.
func (h *Handler) HandleStartChat(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"message":    "success",
		"session_id": h.engine.StartSession(),
	})
}

// HandleSessionMessages handles GET /api/chat/get-session-messages?session_id=.
func (h *Handler) HandleSessionMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := identity.ResolveUserID(r.Context(), q.Get("user_id"))
	msgs, err := h.engine.SessionMessages(r.Context(), q.Get("session_id"), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// HandleSessionTitle handles GET /api/chat/get-session-title?session_id=.
func (h *Handler) HandleSessionTitle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := identity.ResolveUserID(r.Context(), q.Get("user_id"))
	title, err := h.engine.SessionTitle(r.Context(), q.Get("session_id"), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"title": title})
}

// HandleListSessions handles GET /api/chat/get-all-sessions?user_id=&limit=&offset=.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		Error(w, http.StatusBadRequest, domain.KindInvalidInput, "limit must be an integer")
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		Error(w, http.StatusBadRequest, domain.KindInvalidInput, "offset must be an integer")
		return
	}

	userID := identity.ResolveUserID(r.Context(), q.Get("user_id"))
	sessions, total, err := h.engine.ListSessions(r.Context(), userID, limit, offset)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total})
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	MessageID string `json:"message_id"`
	Rating    *int   `json:"rating"`
}

// HandleUpdateTitle handles POST /api/chat/update-session-title.
func (h *Handler) HandleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	userID := identity.ResolveUserID(r.Context(), req.UserID)
	if err := h.engine.UpdateTitle(r.Context(), req.SessionID, userID, req.Title); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Session title updated successfully"})
}

// HandleDeleteSession handles POST /api/chat/delete-session.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	userID := identity.ResolveUserID(r.Context(), req.UserID)
	if err := h.engine.DeleteSession(r.Context(), req.SessionID, userID); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Session deleted successfully"})
}

// HandleRateConversation handles POST /api/chat/rate-conversation.
func (h *Handler) HandleRateConversation(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Rating == nil {
		Error(w, http.StatusBadRequest, domain.KindInvalidInput, "rating is required")
		return
	}
	userID := identity.ResolveUserID(r.Context(), req.UserID)
	if err := h.engine.RateConversation(r.Context(), req.SessionID, userID, *req.Rating); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Conversation rated successfully"})
}

// HandleRateMessage handles POST /api/chat/rate-message.
func (h *Handler) HandleRateMessage(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Rating == nil {
		Error(w, http.StatusBadRequest, domain.KindInvalidInput, "rating is required")
		return
	}
	userID := identity.ResolveUserID(r.Context(), req.UserID)
	if err := h.engine.RateMessage(r.Context(), userID, req.MessageID, *req.Rating); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "Message rated successfully"})
}

type titleRequest struct {
	Model    string   `json:"model"`
	Messages []string `json:"messages"`
	UserID   string   `json:"user_id"`
}

// HandleGenerateTitle handles POST /api/chat/generate-title-from-messages.
func (h *Handler) HandleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	title, err := h.engine.GenerateTitle(r.Context(), req.Model, req.Messages)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "success", "response": title})
}

// HandleModelList handles POST /api/db/get-model-list.
func (h *Handler) HandleModelList(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListModels(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, list)
}
