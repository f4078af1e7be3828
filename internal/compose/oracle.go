package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// PromptOracle delegates prompt composition to a remote formatter.
//
// Wire contract: POST {query, messages, system_prompt, max_tokens} -> {prompt_query}.
type PromptOracle struct {
	url    string
	client *http.Client
}

// NewPromptOracle returns nil when url is empty so callers can pass the result straight to New.
func NewPromptOracle(url string, timeout time.Duration) *PromptOracle {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PromptOracle{url: url, client: &http.Client{Timeout: timeout}}
}

type oracleMessage struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

type formatRequest struct {
	Query        string          `json:"query"`
	Messages     []oracleMessage `json:"messages"`
	SystemPrompt string          `json:"system_prompt"`
	MaxTokens    int             `json:"max_tokens"`
}

type formatResponse struct {
	PromptQuery string `json:"prompt_query"`
}

// Format asks the oracle for the full prompt.
func (o *PromptOracle) Format(ctx context.Context, query string, history []domain.Message, systemPrompt string, maxTokens int) (string, error) {
	msgs := make([]oracleMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, oracleMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(formatRequest{
		Query:        query,
		Messages:     msgs,
		SystemPrompt: systemPrompt,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode format request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build format request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call prompt oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("prompt oracle returned %s", resp.Status)
	}

	var out formatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode format response: %w", err)
	}
	if out.PromptQuery == "" {
		return "", errors.New("prompt oracle response missing prompt_query")
	}
	return out.PromptQuery, nil
}
