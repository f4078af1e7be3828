package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// ChatModel is the part of a langchaingo model used for chat completions.
type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// ChatModelFactory builds a ChatModel for a client-kind descriptor.
type ChatModelFactory func(d *domain.ModelDescriptor) (ChatModel, error)

// OpenAIChatModel builds an OpenAI-compatible client pointed at the descriptor's endpoint.
func OpenAIChatModel(d *domain.ModelDescriptor) (ChatModel, error) {
	opts := []openai.Option{
		openai.WithToken(d.APIKey),
		openai.WithModel(d.Name),
	}
	if d.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(d.Endpoint))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("setup openai client: %w", err)
	}
	return llm, nil
}

type clientBackend struct {
	newChatModel ChatModelFactory
}

func (b clientBackend) call(ctx context.Context, d *domain.ModelDescriptor, systemPrompt, userContent string) (string, error) {
	if err := requireFields(map[string]string{"model": d.Name, "query": userContent}); err != nil {
		return "", err
	}
	if d.APIKey == "" {
		return "", errors.New("API key is required for client-kind models")
	}

	model, err := b.newChatModel(d)
	if err != nil {
		return "", err
	}

	resp, err := model.GenerateContent(ctx, chatMessages(systemPrompt, userContent), llms.WithModel(d.Name))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", errors.New("invalid response format: missing choices[0].message.content")
	}
	return resp.Choices[0].Content, nil
}

func chatMessages(systemPrompt, userContent string) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, userContent))
}
