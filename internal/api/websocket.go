package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/identity"
)

// socketRequest is one chat frame. Mode is chat, rag, image or chat-only.
type socketRequest struct {
	Mode string `json:"mode"`
	ChatRequest
}

type socketResult struct {
	Type string `json:"type"`
	ChatResponse
}

type socketError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

const socketWriteTimeout = 10 * time.Second

// HandleChatSocket handles GET /ws/chat: each JSON frame in is a chat turn,
// each frame out is its result or error.
func (h *Handler) HandleChatSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.allowedOrigins),
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(h.maxBodySize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx := r.Context()
	userID := identity.UserIDFromContext(ctx)
	h.logger.Info("Chat socket connected", "user_id", userID, "ip", identity.IPFromRequest(r))

	for {
		var req socketRequest
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("Chat socket closed by client", "user_id", userID)
			} else {
				h.logger.Warn("Chat socket read error", "error", err, "user_id", userID)
			}
			return
		}

		reply := h.socketTurn(ctx, userID, r, req)
		writeCtx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
		err := wsjson.Write(writeCtx, ws, reply)
		cancel()
		if err != nil {
			h.logger.Warn("Chat socket write error", "error", err, "user_id", userID)
			return
		}
	}
}

// socketTurn returns a socketResult or socketError frame.
func (h *Handler) socketTurn(ctx context.Context, userID string, r *http.Request, req socketRequest) any {
	key := userID
	if key == "" {
		key = "ip:" + identity.IPFromRequest(r)
	}
	if !h.limiter.Allow(key) {
		return errorReply(domain.Errorf(domain.KindInvalidInput, "rate limit exceeded"))
	}

	mode := chatMode(req.Mode)
	if mode == "" {
		mode = modeChat
	}
	turn, err := turnRequest(ctx, mode, req.ChatRequest, "chat_ws")
	if err != nil {
		return errorReply(err)
	}
	res, err := h.engine.HandleTurn(ctx, turn)
	if err != nil {
		return errorReply(err)
	}
	return socketResult{Type: "result", ChatResponse: newChatResponse(res)}
}

func errorReply(err error) socketError {
	_, body := errorBodyFor(err)
	return socketError{Type: "error", Message: body.Message, Error: body.Error}
}

// originPatterns converts allowed origins to the host patterns the websocket library matches.
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		} else {
			patterns = append(patterns, o)
		}
	}
	return patterns
}
