package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashureev/copilot-relay/internal/config"
	"github.com/ashureev/copilot-relay/internal/domain"
	"github.com/ashureev/copilot-relay/internal/retrieval"
	"github.com/ashureev/copilot-relay/internal/store"
)

var seedCatalogPath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert the model and RAG catalog and embed its documents",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedCatalogPath, "catalog", "f", "", "catalog file (defaults to CATALOG_PATH)")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	path := seedCatalogPath
	if path == "" {
		path = cfg.CatalogPath
	}
	if path == "" {
		return fmt.Errorf("no catalog file: pass --catalog or set CATALOG_PATH")
	}

	catalog, err := config.LoadCatalog(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepository(repo)

	vector, err := retrieval.NewVectorRetriever(cfg.VectorDir, retrieval.OpenAICompatEmbeddings)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	return seedCatalog(ctx, repo, vector, catalog, slog.Default())
}

type documentIngester interface {
	Ingest(ctx context.Context, src *domain.RagSource, docs []string) error
}

// seedCatalog upserts every descriptor and embeds the documents of chromem-backed sources.
func seedCatalog(ctx context.Context, cat store.Catalog, docs documentIngester, c *config.Catalog, logger *slog.Logger) error {
	for _, m := range c.Models {
		if err := cat.UpsertModel(ctx, m); err != nil {
			return fmt.Errorf("failed to upsert model %s: %w", m.Name, err)
		}
	}
	for _, s := range c.RagSources {
		if err := cat.UpsertRagSource(ctx, s); err != nil {
			return fmt.Errorf("failed to upsert rag source %s: %w", s.Name, err)
		}
		if s.Backend != domain.RetrievalBackendChromem || len(s.Documents) == 0 {
			continue
		}
		if err := docs.Ingest(ctx, s, s.Documents); err != nil {
			return fmt.Errorf("failed to ingest documents for %s: %w", s.Name, err)
		}
		logger.Info("Ingested documents", "rag_db", s.Name, "count", len(s.Documents))
	}
	logger.Info("Catalog seeded", "models", len(c.Models), "rag_sources", len(c.RagSources))
	return nil
}
