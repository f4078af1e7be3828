package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// OracleRetriever queries a remote retrieval service.
//
// Wire contract: POST {query, rag_db, user_id, model, num_docs, session_id} -> {documents, embedding?}.
type OracleRetriever struct {
	defaultURL string
	client     *http.Client
}

// NewOracleRetriever creates a retriever. defaultURL is used for sources without their own endpoint.
func NewOracleRetriever(defaultURL string, timeout time.Duration) *OracleRetriever {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OracleRetriever{defaultURL: defaultURL, client: &http.Client{Timeout: timeout}}
}

type retrieveRequest struct {
	Query     string `json:"query"`
	RagDB     string `json:"rag_db"`
	UserID    string `json:"user_id"`
	Model     string `json:"model"`
	NumDocs   int    `json:"num_docs"`
	SessionID string `json:"session_id"`
}

type retrieveResponse struct {
	Documents []string  `json:"documents"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// Retrieve implements Retriever.
func (o *OracleRetriever) Retrieve(ctx context.Context, src *domain.RagSource, q Query) ([]string, error) {
	url := src.Endpoint
	if url == "" {
		url = o.defaultURL
	}
	if url == "" {
		return nil, errors.New("no retrieval endpoint configured")
	}

	model := q.Model
	if src.EmbeddingModel != "" {
		model = src.EmbeddingModel
	}
	body, err := json.Marshal(retrieveRequest{
		Query:     q.Text,
		RagDB:     src.Name,
		UserID:    q.UserID,
		Model:     model,
		NumDocs:   q.limit(),
		SessionID: q.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode retrieval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build retrieval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if src.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+src.APIKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call retrieval service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("retrieval service returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}

	var out retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode retrieval response: %w", err)
	}
	return out.Documents, nil
}
