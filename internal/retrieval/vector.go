package retrieval

import (
	"context"
	"fmt"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// EmbeddingFactory returns the embedding function for a RAG source.
type EmbeddingFactory func(src *domain.RagSource) chromem.EmbeddingFunc

// OpenAICompatEmbeddings embeds through the source's OpenAI-compatible embeddings endpoint.
func OpenAICompatEmbeddings(src *domain.RagSource) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAICompat(src.EmbeddingEndpoint, src.APIKey, src.EmbeddingModel, nil)
}

// VectorRetriever searches an embedded chromem database, one collection per RAG source.
type VectorRetriever struct {
	mu      sync.RWMutex
	db      *chromem.DB
	embedFn EmbeddingFactory
}

// NewVectorRetriever opens the vector store persisted under dir. An empty dir keeps it in memory.
func NewVectorRetriever(dir string, embedFn EmbeddingFactory) (*VectorRetriever, error) {
	if embedFn == nil {
		embedFn = OpenAICompatEmbeddings
	}
	if dir == "" {
		return &VectorRetriever{db: chromem.NewDB(), embedFn: embedFn}, nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return &VectorRetriever{db: db, embedFn: embedFn}, nil
}

func (v *VectorRetriever) collection(src *domain.RagSource) (*chromem.Collection, error) {
	embed := v.embedFn(src)
	if col := v.db.GetCollection(src.Name, embed); col != nil {
		return col, nil
	}
	col, err := v.db.CreateCollection(src.Name, map[string]string{"label": src.Label}, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", src.Name, err)
	}
	return col, nil
}

// Ingest replaces the source's collection with docs.
func (v *VectorRetriever) Ingest(ctx context.Context, src *domain.RagSource, docs []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.db.DeleteCollection(src.Name); err != nil {
		return fmt.Errorf("reset collection %s: %w", src.Name, err)
	}
	col, err := v.collection(src)
	if err != nil {
		return err
	}
	for i, text := range docs {
		doc := chromem.Document{
			ID:       fmt.Sprintf("%s-%d", src.Name, i),
			Content:  text,
			Metadata: map[string]string{"rag_db": src.Name},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document %d to %s: %w", i, src.Name, err)
		}
	}
	return nil
}

// Retrieve implements Retriever.
func (v *VectorRetriever) Retrieve(ctx context.Context, src *domain.RagSource, q Query) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	col := v.db.GetCollection(src.Name, v.embedFn(src))
	if col == nil {
		return nil, nil
	}
	k := q.limit()
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.Query(ctx, q.Text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", src.Name, err)
	}
	docs := make([]string, 0, len(results))
	for _, r := range results {
		docs = append(docs, r.Content)
	}
	return docs, nil
}
