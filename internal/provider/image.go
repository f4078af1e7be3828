package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/copilot-relay/internal/domain"
)

const (
	imageTemperature = 0.7
	imageMaxTokens   = 1000
)

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// dispatchImage sends a multi-part user message. image is a data URI or a public URL.
func (r *Router) dispatchImage(ctx context.Context, d *domain.ModelDescriptor, systemPrompt, userContent, image string) (string, error) {
	url := imageEndpoint(d)
	if err := requireFields(map[string]string{"endpoint": url, "model": d.Name, "query": userContent, "image": image}); err != nil {
		return "", err
	}

	messages := make([]wireMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, wireMessage{Role: string(domain.RoleSystem), Content: systemPrompt})
	}
	messages = append(messages, wireMessage{
		Role: string(domain.RoleUser),
		Content: []contentPart{
			{Type: "text", Text: userContent},
			{Type: "image_url", ImageURL: &imageURL{URL: image}},
		},
	})

	payload := chatRequest{
		Model:       d.Name,
		Messages:    messages,
		Temperature: imageTemperature,
		MaxTokens:   imageMaxTokens,
	}

	var out chatResponse
	if err := postJSON(ctx, r.httpClient, url, d.APIKey, payload, &out); err != nil {
		return "", err
	}
	text := out.choiceContent()
	if text == "" {
		return "", errors.New("invalid response format from vision API: missing content")
	}
	return text, nil
}

// imageEndpoint returns the URL image requests are posted to. Client-kind
// descriptors store a base URL, so the chat-completions path is appended.
func imageEndpoint(d *domain.ModelDescriptor) string {
	if d.Kind != domain.ProviderKindClient || d.Endpoint == "" {
		return d.Endpoint
	}
	base := strings.TrimRight(d.Endpoint, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}
