package api

import (
	"context"
	"net/http"

	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/engine"
	"github.com/ashureev/copilot-relay/internal/identity"
)

// ChatRequest is the body of every chat route and websocket frame.
type ChatRequest struct {
	Query          string `json:"query"`
	Model          string `json:"model"`
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	RagDB          string `json:"rag_db,omitempty"`
	NumDocs        int    `json:"num_docs,omitempty"`
	Image          string `json:"image,omitempty"`
	SaveChat       *bool  `json:"save_chat,omitempty"`
	IncludeHistory *bool  `json:"include_history,omitempty"`
}

// ChatResponse is the success body of every chat route.
type ChatResponse struct {
	Message          string          `json:"message"`
	Response         string          `json:"response"`
	UserMessage      domain.Message  `json:"userMessage"`
	SystemMessage    *domain.Message `json:"systemMessage,omitempty"`
	AssistantMessage domain.Message  `json:"assistantMessage"`
	Documents        []string        `json:"documents,omitempty"`
	Persisted        bool            `json:"persisted"`
	Warning          string          `json:"warning,omitempty"`
}

// chatMode selects the defaults and required fields of a chat route.
type chatMode string

const (
	modeChat     chatMode = "chat"
	modeRag      chatMode = "rag"
	modeImage    chatMode = "image"
	modeChatOnly chatMode = "chat-only"
)

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

// turnRequest validates req for mode and builds the engine request.
func turnRequest(ctx context.Context, mode chatMode, req ChatRequest, channel string) (engine.TurnRequest, error) {
	turn := engine.TurnRequest{
		Query:          req.Query,
		Model:          req.Model,
		SessionID:      req.SessionID,
		UserID:         identity.ResolveUserID(ctx, req.UserID),
		SystemPrompt:   req.SystemPrompt,
		RagDB:          req.RagDB,
		NumDocs:        req.NumDocs,
		Image:          req.Image,
		Save:           boolOr(req.SaveChat, true),
		IncludeHistory: boolOr(req.IncludeHistory, true),
		Channel:        channel,
	}

	switch mode {
	case modeRag:
		if req.RagDB == "" {
			return turn, domain.Errorf(domain.KindInvalidInput, "rag_db is required")
		}
	case modeImage:
		if req.Image == "" {
			return turn, domain.Errorf(domain.KindInvalidInput, "image is required")
		}
		turn.IncludeHistory = boolOr(req.IncludeHistory, false)
	case modeChatOnly:
		turn.Save = false
		turn.IncludeHistory = false
		turn.RagDB = ""
		turn.NoRAG = true
	case modeChat:
		turn.Image = ""
	default:
		return turn, domain.Errorf(domain.KindInvalidInput, "unknown chat mode %q", mode)
	}
	if req.NumDocs < 0 {
		return turn, domain.Errorf(domain.KindInvalidInput, "num_docs must not be negative")
	}
	return turn, nil
}

func newChatResponse(res *engine.TurnResult) ChatResponse {
	return ChatResponse{
		Message:          "success",
		Response:         res.Response,
		UserMessage:      res.UserMessage,
		SystemMessage:    res.SystemMessage,
		AssistantMessage: res.AssistantMessage,
		Documents:        res.Documents,
		Persisted:        res.Persisted,
		Warning:          res.Warning,
	}
}

func (h *Handler) serveChat(w http.ResponseWriter, r *http.Request, mode chatMode) {
	var req ChatRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	turn, err := turnRequest(r.Context(), mode, req, "chat_http")
	if err != nil {
		WriteError(w, err)
		return
	}

	h.logger.Info("Chat request",
		"mode", string(mode),
		"user_id", turn.UserID,
		"session_id", turn.SessionID,
		"model", turn.Model,
		"rag_db", turn.RagDB,
		"query_length", len(turn.Query),
	)

	res, err := h.engine.HandleTurn(r.Context(), turn)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, newChatResponse(res))
}

// HandleChat handles POST /api/chat/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	h.serveChat(w, r, modeChat)
}

// HandleRag handles POST /api/chat/rag.
func (h *Handler) HandleRag(w http.ResponseWriter, r *http.Request) {
	h.serveChat(w, r, modeRag)
}

// HandleChatImage handles POST /api/chat/chat-image.
func (h *Handler) HandleChatImage(w http.ResponseWriter, r *http.Request) {
	h.serveChat(w, r, modeImage)
}

// HandleChatOnly handles POST /api/chat/chat-only: no history, nothing saved.
func (h *Handler) HandleChatOnly(w http.ResponseWriter, r *http.Request) {
	h.serveChat(w, r, modeChatOnly)
}
