// Package engine runs chat turns: it resolves the model, augments the query
// with retrieved documents, composes the context window, dispatches to the
// provider and persists the exchange.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/copilot-relay/internal/compose"
	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/provider"
	"github.com/ashureev/copilot-relay/internal/retrieval"
	"github.com/ashureev/copilot-relay/internal/store"
	"github.com/ashureev/copilot-relay/internal/tokens"
)

// UnsavedWarning is returned with a turn whose response could not be persisted.
const UnsavedWarning = "response was generated but could not be saved"

// Config holds engine behavior settings.
type Config struct {
	MergePolicy     MergePolicy
	HelpdeskRagDB   string
	ClassifierModel string
	DefaultNumDocs  int
}

// Deps are the collaborators of an Engine. Prompts, Retriever, PromptOracle
// and ConversationLog are optional.
type Deps struct {
	Catalog         store.Catalog
	Sessions        store.SessionStore
	Summaries       store.SummaryStore
	Prompts         store.PromptStore
	Counter         tokens.Counter
	Dispatcher      provider.Dispatcher
	Retriever       retrieval.Retriever
	PromptOracle    *compose.PromptOracle
	ConversationLog ConversationLogger
	Logger          *slog.Logger
}

// Engine orchestrates chat turns and session operations.
type Engine struct {
	catalog    store.Catalog
	sessions   store.SessionStore
	prompts    store.PromptStore
	counter    tokens.Counter
	dispatcher provider.Dispatcher
	retriever  retrieval.Retriever
	composer   *compose.Composer
	convLog    ConversationLogger
	cfg        Config
	logger     *slog.Logger
}

// New creates an Engine.
func New(deps Deps, cfg Config) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	convLog := deps.ConversationLog
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	counter := deps.Counter
	if counter == nil {
		counter = tokens.EstimateCounter{}
	}
	if cfg.MergePolicy == "" {
		cfg.MergePolicy = MergeExclusive
	}
	if cfg.DefaultNumDocs <= 0 {
		cfg.DefaultNumDocs = retrieval.DefaultNumDocs
	}

	sum := &summarizer{catalog: deps.Catalog, dispatcher: deps.Dispatcher, logger: logger}
	return &Engine{
		catalog:    deps.Catalog,
		sessions:   deps.Sessions,
		prompts:    deps.Prompts,
		counter:    counter,
		dispatcher: deps.Dispatcher,
		retriever:  deps.Retriever,
		composer:   compose.New(sum, deps.Summaries, deps.PromptOracle, logger),
		convLog:    convLog,
		cfg:        cfg,
		logger:     logger,
	}
}

// TurnRequest is one query against a model.
type TurnRequest struct {
	Query          string
	Model          string
	SessionID      string
	UserID         string
	SystemPrompt   string
	RagDB          string
	NumDocs        int
	Image          string
	Save           bool
	IncludeHistory bool
	// NoRAG disables retrieval for the turn, including helpdesk inference.
	NoRAG bool
	// Channel tags conversation log events, e.g. "chat_http" or "chat_ws".
	Channel string
}

// TurnResult is the outcome of a successful turn. Persisted is false when
// saving was requested and failed; PersistErr then carries the cause.
type TurnResult struct {
	Response         string
	UserMessage      domain.Message
	SystemMessage    *domain.Message
	AssistantMessage domain.Message
	Documents        []string
	Persisted        bool
	Warning          string
	PersistErr       error
}

// HandleTurn runs a single turn. Failures before the provider responds are
// returned as *domain.Error; a persistence failure afterwards is reported on
// the result instead.
func (e *Engine) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	res, err := e.handleTurn(ctx, req)
	if err != nil {
		e.logger.Warn("Chat turn failed",
			"user_id", req.UserID,
			"session_id", req.SessionID,
			"model", req.Model,
			"error_kind", domain.KindOf(err),
			"error", err,
		)
		e.convLog.Log(ConversationLogEvent{
			UserID:     req.UserID,
			SessionID:  req.SessionID,
			Channel:    req.Channel,
			Direction:  "outbound",
			EventType:  "chat_error",
			Model:      req.Model,
			ContentRaw: err.Error(),
			Meta:       map[string]any{"error_kind": string(domain.KindOf(err))},
		})
	}
	return res, err
}

func (e *Engine) handleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "query is required")
	}
	if req.Model == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "model is required")
	}
	if req.Save && req.SessionID == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "session_id is required to save a chat")
	}

	model, err := e.resolveModel(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	maxTokens := model.ContextLimit()

	queryTokens := e.counter.Count(ctx, req.Query)
	if queryTokens > maxTokens-compose.Headroom {
		return nil, domain.Errorf(domain.KindTokenLimitExceeded,
			"query too long for model %s: %d tokens, limit %d", model.Name, queryTokens, maxTokens-compose.Headroom)
	}

	e.convLog.Log(ConversationLogEvent{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Channel:    req.Channel,
		Direction:  "inbound",
		EventType:  "chat_user_message",
		Model:      model.Name,
		ContentRaw: req.Query,
		Meta:       map[string]any{"rag_db": req.RagDB, "has_image": req.Image != ""},
	})

	var session *domain.Session
	if req.SessionID != "" && (req.Save || req.IncludeHistory) {
		session, err = e.sessions.FindSession(ctx, req.SessionID)
		if err != nil {
			return nil, domain.Wrap(domain.KindPersistence, "load session", err)
		}
		if session != nil && !ownedBy(session, req.UserID) {
			return nil, domain.Errorf(domain.KindNotFound, "session %s not found", req.SessionID)
		}
	}

	docs, ragUsed, err := e.retrieveDocuments(ctx, req)
	if err != nil {
		return nil, err
	}
	systemPrompt := req.SystemPrompt
	if ragUsed {
		systemPrompt = AugmentSystemPrompt(req.SystemPrompt, docs)
	}

	prompt := req.Query
	if req.IncludeHistory {
		var history []domain.Message
		if session != nil {
			history = session.Messages
		}
		composed := e.composer.Compose(ctx, compose.Request{
			SessionID:    req.SessionID,
			Query:        req.Query,
			QueryTokens:  queryTokens,
			History:      history,
			SystemPrompt: systemPrompt,
			Model:        model,
		})
		prompt = composed.Prompt
		e.logger.Debug("Context composed",
			"session_id", req.SessionID,
			"retained", len(composed.Retained),
			"dropped", composed.Dropped,
			"summarized", composed.Summarized,
			"delegated", composed.Delegated,
		)
	}

	promptTokens := queryTokens
	if prompt != req.Query {
		promptTokens = e.counter.Count(ctx, prompt)
	}
	systemTokens := e.counter.Count(ctx, systemPrompt)
	if promptTokens+systemTokens > maxTokens {
		return nil, domain.Errorf(domain.KindTokenLimitExceeded,
			"prompt too long for model %s: %d tokens, limit %d", model.Name, promptTokens+systemTokens, maxTokens)
	}

	response, err := e.dispatcher.Dispatch(ctx, model, systemPrompt, prompt, req.Image)
	if err != nil {
		return nil, domain.Wrap(domain.KindProvider, fmt.Sprintf("model %s", model.Name), err)
	}

	now := time.Now().UTC()
	res := &TurnResult{
		Response:    response,
		UserMessage: newMessage(domain.RoleUser, req.Query, queryTokens, now),
		AssistantMessage: newMessage(domain.RoleAssistant, response,
			e.counter.Count(ctx, response), now),
	}
	if systemPrompt != "" {
		sys := newMessage(domain.RoleSystem, systemPrompt, systemTokens, now)
		if ragUsed {
			sys.Documents = docs
			res.Documents = docs
		}
		res.SystemMessage = &sys
	}

	if req.Save {
		if err := e.persist(ctx, req, session, res); err != nil {
			res.PersistErr = err
			res.Warning = UnsavedWarning
			e.logger.Error("Failed to persist chat turn",
				"user_id", req.UserID,
				"session_id", req.SessionID,
				"error", err,
			)
		} else {
			res.Persisted = true
		}
	}

	e.convLog.Log(ConversationLogEvent{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Channel:    req.Channel,
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		Model:      model.Name,
		ContentRaw: response,
		Meta: map[string]any{
			"persisted":      res.Persisted,
			"document_count": len(res.Documents),
		},
	})
	return res, nil
}

func (e *Engine) persist(ctx context.Context, req TurnRequest, session *domain.Session, res *TurnResult) error {
	if session == nil {
		if err := e.sessions.CreateSession(ctx, req.SessionID, req.UserID, domain.DefaultSessionTitle); err != nil {
			return domain.Wrap(domain.KindPersistence, "create session", err)
		}
	}
	msgs := []domain.Message{res.UserMessage}
	if res.SystemMessage != nil {
		msgs = append(msgs, *res.SystemMessage)
	}
	msgs = append(msgs, res.AssistantMessage)
	if err := e.sessions.AppendMessages(ctx, req.SessionID, msgs); err != nil {
		return domain.Wrap(domain.KindPersistence, "append messages", err)
	}
	return nil
}

func (e *Engine) resolveModel(ctx context.Context, name string) (*domain.ModelDescriptor, error) {
	model, err := e.catalog.FindModel(ctx, name)
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistence, "find model", err)
	}
	if model == nil {
		return nil, domain.Errorf(domain.KindUnknownModel, "unknown model %q", name)
	}
	return model, nil
}

// newMessage stores a zero count for non-empty content as unknown, so a
// counter outage is estimated later instead of weighing nothing.
func newMessage(role domain.Role, content string, tokenCount int, ts time.Time) domain.Message {
	msg := domain.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
	if tokenCount > 0 || content == "" {
		msg.TokenCount = domain.IntPtr(tokenCount)
	}
	return msg
}

func ownedBy(s *domain.Session, userID string) bool {
	return s.UserID == "" || userID == "" || s.UserID == userID
}

// summarizer runs summarization on the model's summary model, falling back to the model itself.
type summarizer struct {
	catalog    store.Catalog
	dispatcher provider.Dispatcher
	logger     *slog.Logger
}

func (s *summarizer) Summarize(ctx context.Context, model *domain.ModelDescriptor, prompt string) (string, error) {
	target := model
	if model.SummaryModel != "" && model.SummaryModel != model.Name {
		m, err := s.catalog.FindModel(ctx, model.SummaryModel)
		switch {
		case err != nil:
			s.logger.Warn("Summary model lookup failed, using primary model", "summary_model", model.SummaryModel, "error", err)
		case m == nil:
			s.logger.Warn("Summary model not found, using primary model", "summary_model", model.SummaryModel)
		default:
			target = m
		}
	}
	text, err := s.dispatcher.Dispatch(ctx, target, "", prompt, "")
	if err != nil {
		return "", fmt.Errorf("summarize with %s: %w", target.Name, err)
	}
	return text, nil
}

// storeError maps store failures to domain kinds.
func storeError(what string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.Errorf(domain.KindNotFound, "%s not found", what)
	}
	return domain.Wrap(domain.KindPersistence, what, err)
}
