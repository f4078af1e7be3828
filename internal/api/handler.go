// Package api provides HTTP handlers for the chat API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/engine"
	"github.com/ashureev/copilot-relay/internal/identity"
)

// defaultMaxRequestBodySize allows images sent inline as data URIs.
const defaultMaxRequestBodySize = 10 << 20 // 10MB

// Engine is the engine surface used by the handlers.
type Engine interface {
	HandleTurn(ctx context.Context, req engine.TurnRequest) (*engine.TurnResult, error)
	StartSession() string
	SessionMessages(ctx context.Context, sessionID, userID string) ([]domain.Message, error)
	SessionTitle(ctx context.Context, sessionID, userID string) (string, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*domain.Session, int, error)
	UpdateTitle(ctx context.Context, sessionID, userID, title string) error
	DeleteSession(ctx context.Context, sessionID, userID string) error
	RateConversation(ctx context.Context, sessionID, userID string, rating int) error
	RateMessage(ctx context.Context, userID, messageID string, rating int) error
	GenerateTitle(ctx context.Context, model string, messages []string) (string, error)
	ListModels(ctx context.Context) (*engine.ModelList, error)
	SavePrompt(ctx context.Context, userID, title, text string) (*domain.SavedPrompt, error)
	ListPrompts(ctx context.Context, userID string) ([]domain.SavedPrompt, error)
}

// Options configures a Handler.
type Options struct {
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MaxRequestBodySize int64
	// AllowedOrigins are accepted for websocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

// Handler serves the chat API.
type Handler struct {
	engine         Engine
	limiter        *RateLimiter
	maxBodySize    int64
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(e Engine, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RateLimitRequests <= 0 {
		opts.RateLimitRequests = 30
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		engine:         e,
		limiter:        NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		maxBodySize:    opts.MaxRequestBodySize,
		allowedOrigins: opts.AllowedOrigins,
		logger:         logger,
	}
}

// RegisterRoutes registers the API routes. Callers mount identity middleware first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/chat", h.HandleChat)
			r.Post("/rag", h.HandleRag)
			r.Post("/chat-image", h.HandleChatImage)
			r.Post("/chat-only", h.HandleChatOnly)
			r.Post("/generate-title-from-messages", h.HandleGenerateTitle)
		})
		r.Get("/start-chat", h.HandleStartChat)
		r.Get("/get-session-messages", h.HandleSessionMessages)
		r.Get("/get-all-sessions", h.HandleListSessions)
		r.Get("/get-session-title", h.HandleSessionTitle)
		r.Post("/update-session-title", h.HandleUpdateTitle)
		r.Post("/delete-session", h.HandleDeleteSession)
		r.Post("/rate-conversation", h.HandleRateConversation)
		r.Post("/rate-message", h.HandleRateMessage)
		r.Get("/get-user-prompts", h.HandleListPrompts)
		r.Post("/save-prompt", h.HandleSavePrompt)
	})
	r.Post("/api/db/get-model-list", h.HandleModelList)
	r.Get("/ws/chat", h.HandleChatSocket)
}

// Close stops background work.
func (h *Handler) Close() {
	h.limiter.Stop()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, kind domain.ErrorKind, message string) {
	JSON(w, status, errorBody{Message: message, Error: string(kind)})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput, domain.KindUnknownModel, domain.KindUnknownRagSource:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindTokenLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case domain.KindProvider, domain.KindRetrieval:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorBodyFor(err error) (int, errorBody) {
	var de *domain.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError, errorBody{Message: "internal server error", Error: string(domain.KindPersistence)}
	}
	msg := de.Message
	if de.Kind == domain.KindProvider || de.Kind == domain.KindRetrieval {
		// Backend status lines are diagnostic and safe to surface.
		msg = de.Error()
	}
	return StatusFor(de.Kind), errorBody{Message: msg, Error: string(de.Kind)}
}

// WriteError writes err with the status of its domain kind.
func WriteError(w http.ResponseWriter, err error) {
	status, body := errorBodyFor(err)
	JSON(w, status, body)
}

// decodeJSON reads a size-limited JSON body into v and writes the error response itself.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, domain.KindInvalidInput, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid request body")
		return false
	}
	return true
}

// rateLimit throttles by user ID, falling back to the client IP.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := identity.UserIDFromContext(r.Context())
		if key == "" {
			key = "ip:" + identity.IPFromRequest(r)
		}
		if ok, retryAfter := h.limiter.Reserve(key); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			Error(w, http.StatusTooManyRequests, domain.KindInvalidInput, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
