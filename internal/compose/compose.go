// Package compose builds the prompt for a turn from the new query and the
// session history, keeping it within the model's context window.
package compose

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/tokens"
)

const (
	// Headroom is reserved from every context window for the model's reply.
	Headroom = 500

	// SummaryInstructionReserve is reserved from the summary budget for the
	// summarization instruction itself.
	SummaryInstructionReserve = 64
)

const (
	summaryInstruction = "Summarize the following conversation briefly:\n\n"
	summaryHeader      = "Summary of earlier conversation:\n"
	historyHeader      = "Previous conversation:\n"
	queryHeader        = "New query:\n"
)

// Summarizer condenses dropped history with the model's summary model.
type Summarizer interface {
	Summarize(ctx context.Context, model *domain.ModelDescriptor, prompt string) (string, error)
}

// SummaryStore persists one summary per session.
type SummaryStore interface {
	UpsertSummary(ctx context.Context, sessionID, text string) error
	GetSummary(ctx context.Context, sessionID string) (*domain.Summary, error)
}

// Request is the input of a single composition.
type Request struct {
	SessionID    string
	Query        string
	QueryTokens  int
	History      []domain.Message
	SystemPrompt string
	Model        *domain.ModelDescriptor
}

// Result describes the composed prompt and how the history was used.
type Result struct {
	Prompt     string
	Retained   []domain.Message
	Dropped    int
	Summarized int
	Summary    string
	Delegated  bool
}

// Composer assembles prompts. The summarizer, summary store and oracle are optional.
type Composer struct {
	summarizer Summarizer
	summaries  SummaryStore
	oracle     *PromptOracle
	logger     *slog.Logger
}

// New creates a Composer.
func New(summarizer Summarizer, summaries SummaryStore, oracle *PromptOracle, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		summarizer: summarizer,
		summaries:  summaries,
		oracle:     oracle,
		logger:     logger,
	}
}

// Compose returns the prompt to dispatch. It never fails: oracle and
// summarization problems are logged and the local algorithm proceeds without them.
func (c *Composer) Compose(ctx context.Context, req Request) Result {
	maxTokens := req.Model.ContextLimit()

	if c.oracle != nil {
		prompt, err := c.oracle.Format(ctx, req.Query, req.History, req.SystemPrompt, maxTokens)
		if err == nil {
			return Result{Prompt: prompt, Retained: req.History, Delegated: true}
		}
		c.logger.Warn("Prompt oracle failed, composing locally",
			"session_id", req.SessionID,
			"error", err,
		)
	}

	retained, dropped := Window(req.History, req.QueryTokens, maxTokens)
	res := Result{Retained: retained, Dropped: len(dropped)}

	if len(dropped) > 0 {
		run := SummaryRun(dropped, maxTokens)
		res.Summarized = len(run)
		res.Summary = c.summarize(ctx, req, run)
	}

	res.Prompt = Assemble(res.Summary, retained, req.Query)
	return res
}

func (c *Composer) summarize(ctx context.Context, req Request, run []domain.Message) string {
	if len(run) > 0 && c.summarizer != nil {
		text, err := c.summarizer.Summarize(ctx, req.Model, summaryInstruction+FormatLines(run))
		if err != nil {
			c.logger.Warn("Summarization failed",
				"event", "SummarizationFailure",
				"session_id", req.SessionID,
				"model", req.Model.Name,
				"messages", len(run),
				"error", err,
			)
		} else if text = strings.TrimSpace(text); text != "" {
			if c.summaries != nil && req.SessionID != "" {
				if err := c.summaries.UpsertSummary(ctx, req.SessionID, text); err != nil {
					c.logger.Warn("Failed to store summary", "session_id", req.SessionID, "error", err)
				}
			}
			return text
		}
	}

	// Fall back to the last stored summary of this session.
	if c.summaries == nil || req.SessionID == "" {
		return ""
	}
	prev, err := c.summaries.GetSummary(ctx, req.SessionID)
	if err != nil {
		c.logger.Warn("Failed to load summary", "session_id", req.SessionID, "error", err)
		return ""
	}
	if prev == nil {
		return ""
	}
	return prev.Text
}

// MessageTokens is the stored token count of m, or an estimate when none was
// stored. A stored zero for non-empty content is also estimated.
func MessageTokens(m domain.Message) int {
	if m.TokenCount != nil && (*m.TokenCount > 0 || m.Content == "") {
		return *m.TokenCount
	}
	return tokens.Estimate(m.Content)
}

// Window splits history into the retained suffix and the dropped prefix.
// Messages are kept newest first while queryTokens plus their running total
// stays below maxTokens-Headroom; the first message that does not fit and
// every older one are dropped. Both slices keep chronological order.
func Window(history []domain.Message, queryTokens, maxTokens int) (retained, dropped []domain.Message) {
	limit := maxTokens - Headroom
	total := queryTokens
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += MessageTokens(history[i])
		if total >= limit {
			break
		}
		cut = i
	}
	return history[cut:], history[:cut]
}

// SummaryRun returns the longest most-recent contiguous run of dropped
// messages that fits the summary budget, in chronological order.
func SummaryRun(dropped []domain.Message, maxTokens int) []domain.Message {
	limit := maxTokens - Headroom - SummaryInstructionReserve
	total := 0
	start := len(dropped)
	for i := len(dropped) - 1; i >= 0; i-- {
		total += MessageTokens(dropped[i])
		if total >= limit {
			break
		}
		start = i
	}
	return dropped[start:]
}

// FormatLines renders messages as "role: content" lines.
func FormatLines(msgs []domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, string(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Assemble joins the summary, history and query blocks with blank lines.
// With neither a summary nor history the prompt is the query itself.
func Assemble(summary string, history []domain.Message, query string) string {
	var blocks []string
	if summary != "" {
		blocks = append(blocks, summaryHeader+summary)
	}
	if len(history) > 0 {
		blocks = append(blocks, historyHeader+FormatLines(history))
	}
	if len(blocks) == 0 {
		return query
	}
	blocks = append(blocks, queryHeader+query)
	return strings.Join(blocks, "\n\n")
}
