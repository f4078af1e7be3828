// Package retrieval fetches documents from RAG sources.
package retrieval

import (
	"context"
	"fmt"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// DefaultNumDocs is the number of documents requested when a query names none.
const DefaultNumDocs = 3

// Query is a single retrieval request.
type Query struct {
	Text      string
	UserID    string
	SessionID string
	Model     string
	NumDocs   int
}

func (q Query) limit() int {
	if q.NumDocs <= 0 {
		return DefaultNumDocs
	}
	return q.NumDocs
}

// Retriever returns the documents of src most relevant to q.
// An empty result is not an error.
type Retriever interface {
	Retrieve(ctx context.Context, src *domain.RagSource, q Query) ([]string, error)
}

// Router picks a Retriever by the source's backend.
type Router struct {
	oracle Retriever
	vector Retriever
}

// NewRouter creates a Router. Either retriever may be nil, in which case
// sources on that backend fail with RetrievalFailure.
func NewRouter(oracle, vector Retriever) *Router {
	return &Router{oracle: oracle, vector: vector}
}

// Retrieve implements Retriever.
func (r *Router) Retrieve(ctx context.Context, src *domain.RagSource, q Query) ([]string, error) {
	var backend Retriever
	switch src.Backend {
	case domain.RetrievalBackendOracle, "":
		backend = r.oracle
	case domain.RetrievalBackendChromem:
		backend = r.vector
	default:
		return nil, domain.Errorf(domain.KindRetrieval, "rag source %s: unsupported backend %q", src.Name, src.Backend)
	}
	if backend == nil {
		return nil, domain.Errorf(domain.KindRetrieval, "rag source %s: backend %q not configured", src.Name, src.Backend)
	}

	docs, err := backend.Retrieve(ctx, src, q)
	if err != nil {
		return nil, domain.Wrap(domain.KindRetrieval, fmt.Sprintf("rag source %s", src.Name), err)
	}
	return docs, nil
}
