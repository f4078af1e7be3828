package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/copilot-relay/internal/api"
	"github.com/ashureev/copilot-relay/internal/compose"
	"github.com/ashureev/copilot-relay/internal/config"
	"github.com/ashureev/copilot-relay/internal/engine"
	"github.com/ashureev/copilot-relay/internal/health"
	"github.com/ashureev/copilot-relay/internal/identity"
	"github.com/ashureev/copilot-relay/internal/middleware"
	"github.com/ashureev/copilot-relay/internal/provider"
	"github.com/ashureev/copilot-relay/internal/retrieval"
	"github.com/ashureev/copilot-relay/internal/store"
	"github.com/ashureev/copilot-relay/internal/tokens"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the gRPC health server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepository(repo)

	vector, err := retrieval.NewVectorRetriever(cfg.VectorDir, retrieval.OpenAICompatEmbeddings)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}

	if cfg.CatalogPath != "" {
		catalog, err := config.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		if err := seedCatalog(ctx, repo, vector, catalog, logger); err != nil {
			return err
		}
	}

	var catalog store.Catalog = repo
	if cfg.RedisAddr != "" {
		client, err := store.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Warn("Descriptor cache disabled, redis unreachable", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer func() { _ = client.Close() }()
			catalog = store.NewCachedCatalog(repo, client, cfg.DescriptorCacheTTL, logger)
			slog.Info("Descriptor cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.DescriptorCacheTTL)
		}
	}

	convLog, err := engine.NewConversationLogger(engine.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize conversation logger: %w", err)
	}
	defer func() {
		if err := convLog.Close(); err != nil {
			slog.Error("Failed to close conversation logger", "error", err)
		}
	}()

	mergePolicy, err := engine.ParseMergePolicy(cfg.RagMergePolicy)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Deps{
		Catalog:   catalog,
		Sessions:  repo,
		Summaries: repo,
		Prompts:   repo,
		Counter:   tokens.NewCounter(cfg.TokenOracleURL, cfg.ProviderTimeout, logger),
		Dispatcher: provider.NewRouter(
			provider.WithTimeout(cfg.ProviderTimeout),
			provider.WithLegacyUser(cfg.LegacyProviderUser),
			provider.WithLogger(logger),
		),
		Retriever: retrieval.NewRouter(
			retrieval.NewOracleRetriever(cfg.RetrievalURL, cfg.ProviderTimeout),
			vector,
		),
		PromptOracle:    compose.NewPromptOracle(cfg.PromptOracleURL, cfg.ProviderTimeout),
		ConversationLog: convLog,
		Logger:          logger,
	}, engine.Config{
		MergePolicy:     mergePolicy,
		HelpdeskRagDB:   cfg.HelpdeskRagDB,
		ClassifierModel: cfg.ClassifierModel,
		DefaultNumDocs:  cfg.DefaultNumDocs,
	})

	var wsOrigins []string
	if !cfg.IsDevelopment() {
		wsOrigins = cfg.AllowedOrigins()
	}
	handler := api.NewHandler(eng, api.Options{
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		AllowedOrigins:     wsOrigins,
	}, logger)
	defer handler.Close()

	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set, trusting X-User-ID headers")
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.JWTSecret))
	handler.RegisterRoutes(r)

	// No WriteTimeout: provider calls and websocket chats outlive any fixed deadline.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	grpcLis, err := listenGRPC(cfg.GRPCPort)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if grpcLis != nil {
		hs := health.New(repo, cfg.HealthInterval, logger)
		lis := grpcLis
		g.Go(func() error { return hs.Serve(lis) })
		g.Go(func() error { return hs.Run(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			hs.Stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}

// listenGRPC opens the health listener before any server goroutine starts.
// An empty port disables it.
func listenGRPC(port string) (net.Listener, error) {
	if port == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on gRPC port: %w", err)
	}
	return lis, nil
}
