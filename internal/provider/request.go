package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// maxErrorBody caps how much of a failed response body is folded into an error.
const maxErrorBody = 512

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// legacyRequest is the fixed wire shape of the LegacyModelName backend.
type legacyRequest struct {
	Model       string   `json:"model"`
	System      string   `json:"system"`
	Prompt      []string `json:"prompt"`
	User        string   `json:"user"`
	Temperature float64  `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Response string `json:"response"`
}

func (r chatResponse) choiceContent() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

type requestBackend struct {
	httpClient *http.Client
	legacyUser string
}

func (b requestBackend) call(ctx context.Context, d *domain.ModelDescriptor, systemPrompt, userContent string) (string, error) {
	if err := requireFields(map[string]string{"endpoint": d.Endpoint, "model": d.Name, "query": userContent}); err != nil {
		return "", err
	}

	if d.Name == LegacyModelName {
		return b.callLegacy(ctx, d, systemPrompt, userContent)
	}

	payload := chatRequest{
		Model: d.Name,
		Messages: []wireMessage{
			{Role: string(domain.RoleSystem), Content: systemPrompt},
			{Role: string(domain.RoleUser), Content: userContent},
		},
		Temperature: 1.0,
	}

	var out chatResponse
	if err := postJSON(ctx, b.httpClient, d.Endpoint, d.APIKey, payload, &out); err != nil {
		return "", err
	}
	if text := out.choiceContent(); text != "" {
		return text, nil
	}
	if out.Response != "" {
		return out.Response, nil
	}
	return "", errors.New("invalid response format: missing choices[0].message.content and response")
}

func (b requestBackend) callLegacy(ctx context.Context, d *domain.ModelDescriptor, systemPrompt, userContent string) (string, error) {
	payload := legacyRequest{
		Model:       d.Name,
		System:      systemPrompt,
		Prompt:      []string{userContent},
		User:        b.legacyUser,
		Temperature: 1.0,
	}

	var out chatResponse
	if err := postJSON(ctx, b.httpClient, d.Endpoint, d.APIKey, payload, &out); err != nil {
		return "", err
	}
	if out.Response == "" {
		return "", errors.New("invalid response format: missing response")
	}
	return out.Response, nil
}

// postJSON sends payload to url and decodes a 2xx JSON reply into out.
// Non-2xx replies fail with the status line and the start of the body.
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(snippet) > 0 {
			return fmt.Errorf("HTTP error: %s: %s", resp.Status, bytes.TrimSpace(snippet))
		}
		return fmt.Errorf("HTTP error: %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
