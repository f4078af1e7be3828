package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// Catalog is the seedable set of model and RAG source descriptors.
type Catalog struct {
	Models     []*domain.ModelDescriptor `mapstructure:"models"`
	RagSources []*domain.RagSource       `mapstructure:"rag_sources"`
}

// LoadCatalog reads a YAML (or any viper-supported) catalog file.
// Endpoints and API keys may reference environment variables as ${VAR}.
func LoadCatalog(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml") {
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var c Catalog
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}
	c.expandEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("catalog validation failed: %w", err)
	}
	return &c, nil
}

func (c *Catalog) expandEnv() {
	for _, m := range c.Models {
		m.APIKey = expand(m.APIKey)
		m.Endpoint = expand(m.Endpoint)
	}
	for _, s := range c.RagSources {
		s.APIKey = expand(s.APIKey)
		s.Endpoint = expand(s.Endpoint)
		s.EmbeddingEndpoint = expand(s.EmbeddingEndpoint)
	}
}

func expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return strings.TrimSpace(os.ExpandEnv(s))
}

// Validate normalizes kinds and backends and rejects incomplete entries.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m == nil || m.Name == "" {
			return fmt.Errorf("models[%d]: model name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("models[%d]: duplicate model %q", i, m.Name)
		}
		seen[m.Name] = true

		kind, err := domain.ParseProviderKind(string(m.Kind))
		if err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
		m.Kind = kind
		if m.Endpoint == "" {
			return fmt.Errorf("model %s: endpoint is required", m.Name)
		}
		if m.MaxTokens < 0 {
			return fmt.Errorf("model %s: max_tokens must not be negative", m.Name)
		}
	}

	for _, m := range c.Models {
		if m.SummaryModel != "" && !seen[m.SummaryModel] {
			return fmt.Errorf("model %s: summary_model %q is not in the catalog", m.Name, m.SummaryModel)
		}
	}

	names := make(map[string]bool, len(c.RagSources))
	for i, s := range c.RagSources {
		if s == nil || s.Name == "" {
			return fmt.Errorf("rag_sources[%d]: name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("rag_sources[%d]: duplicate source %q", i, s.Name)
		}
		names[s.Name] = true

		switch domain.RetrievalBackend(strings.ToLower(string(s.Backend))) {
		case "", domain.RetrievalBackendOracle:
			s.Backend = domain.RetrievalBackendOracle
		case domain.RetrievalBackendChromem:
			s.Backend = domain.RetrievalBackendChromem
			if len(s.Documents) > 0 && s.EmbeddingEndpoint == "" {
				return fmt.Errorf("rag source %s: model_endpoint is required to embed documents", s.Name)
			}
		default:
			return fmt.Errorf("rag source %s: unsupported backend %q", s.Name, s.Backend)
		}
	}
	return nil
}
