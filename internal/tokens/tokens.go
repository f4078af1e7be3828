// Package tokens counts tokens for prompts and messages.
package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"
)

// Counter returns the token count of a string. Implementations never fail:
// accounting is advisory, so an unavailable counter yields 0.
type Counter interface {
	Count(ctx context.Context, text string) int
}

// charsPerToken is the heuristic ratio used when no oracle count is available.
const charsPerToken = 4

// Estimate approximates the token count of text as ceil(runes/4).
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateCounter counts with the character heuristic.
type EstimateCounter struct{}

// Count implements Counter.
func (EstimateCounter) Count(_ context.Context, text string) int {
	return Estimate(text)
}

// OracleCounter asks a remote token-counting service.
//
// Wire contract: POST {"query": text} -> {"token_count": int}.
type OracleCounter struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewOracleCounter creates a counter for the oracle at url. A zero timeout means 10s.
func NewOracleCounter(url string, timeout time.Duration, logger *slog.Logger) *OracleCounter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OracleCounter{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type countRequest struct {
	Query string `json:"query"`
}

type countResponse struct {
	TokenCount *int `json:"token_count"`
}

// Count implements Counter. It makes a single attempt and returns 0 on any failure.
func (c *OracleCounter) Count(ctx context.Context, text string) int {
	if text == "" {
		return 0
	}
	n, err := c.count(ctx, text)
	if err != nil {
		c.logger.Debug("Token oracle unavailable, counting as zero", "error", err)
		return 0
	}
	return n
}

func (c *OracleCounter) count(ctx context.Context, text string) (int, error) {
	body, err := json.Marshal(countRequest{Query: text})
	if err != nil {
		return 0, fmt.Errorf("encode count request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build count request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call token oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("token oracle returned %s", resp.Status)
	}

	var out countResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	if out.TokenCount == nil {
		return 0, fmt.Errorf("token oracle response missing token_count")
	}
	return *out.TokenCount, nil
}

// NewCounter returns an OracleCounter when url is set and an EstimateCounter otherwise.
func NewCounter(url string, timeout time.Duration, logger *slog.Logger) Counter {
	if url == "" {
		return EstimateCounter{}
	}
	return NewOracleCounter(url, timeout, logger)
}
