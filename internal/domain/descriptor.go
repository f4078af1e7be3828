// Package domain contains the core types of the chat orchestration service.
package domain

import (
	"fmt"
	"strings"
)

// ProviderKind identifies the calling convention of a model backend.
type ProviderKind string

const (
	// ProviderKindClient is an OpenAI-compatible chat-completions API reached through a client library.
	ProviderKindClient ProviderKind = "client"
	// ProviderKindRequest is a custom HTTP API reached with a raw JSON POST.
	ProviderKindRequest ProviderKind = "request"
)

// DefaultMaxTokens is used when a descriptor does not carry a context size.
const DefaultMaxTokens = 10000

// ParseProviderKind validates a stored dispatch kind.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch k := ProviderKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ProviderKindClient, ProviderKindRequest:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported dispatch kind %q", s)
	}
}

// ModelDescriptor identifies one LLM backend and how to call it.
type ModelDescriptor struct {
	Name         string       `json:"model" yaml:"model" mapstructure:"model"`
	Kind         ProviderKind `json:"queryType" yaml:"queryType" mapstructure:"queryType"`
	Endpoint     string       `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	APIKey       string       `json:"-" yaml:"apiKey" mapstructure:"apiKey"`
	MaxTokens    int          `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	SummaryModel string       `json:"summary_model,omitempty" yaml:"summary_model" mapstructure:"summary_model"`
	ModelType    string       `json:"model_type" yaml:"model_type" mapstructure:"model_type"`
	Label        string       `json:"label,omitempty" yaml:"label" mapstructure:"label"`
	Active       bool         `json:"active" yaml:"active" mapstructure:"active"`
	Priority     int          `json:"priority" yaml:"priority" mapstructure:"priority"`
}

// ContextLimit returns the descriptor's maximum context tokens, falling back to DefaultMaxTokens.
func (m *ModelDescriptor) ContextLimit() int {
	if m.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return m.MaxTokens
}

// RetrievalBackend selects how a RAG source is queried.
type RetrievalBackend string

const (
	// RetrievalBackendOracle posts the query to a remote retrieval service.
	RetrievalBackendOracle RetrievalBackend = "oracle"
	// RetrievalBackendChromem searches the embedded vector store.
	RetrievalBackendChromem RetrievalBackend = "chromem"
)

// RagSource identifies a retrieval corpus.
type RagSource struct {
	Name              string           `json:"name" yaml:"name" mapstructure:"name"`
	Backend           RetrievalBackend `json:"backend" yaml:"backend" mapstructure:"backend"`
	Endpoint          string           `json:"-" yaml:"endpoint" mapstructure:"endpoint"`
	EmbeddingModel    string           `json:"model" yaml:"model" mapstructure:"model"`
	EmbeddingEndpoint string           `json:"-" yaml:"model_endpoint" mapstructure:"model_endpoint"`
	APIKey            string           `json:"-" yaml:"apiKey" mapstructure:"apiKey"`
	DBEndpoint        string           `json:"-" yaml:"db_endpoint" mapstructure:"db_endpoint"`
	Label             string           `json:"label,omitempty" yaml:"label" mapstructure:"label"`
	Active            bool             `json:"active" yaml:"active" mapstructure:"active"`
	Priority          int              `json:"priority" yaml:"priority" mapstructure:"priority"`
	Documents         []string         `json:"-" yaml:"documents" mapstructure:"documents"`
}
