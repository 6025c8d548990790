package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pacifichansard/rag/internal/cache"
	"github.com/pacifichansard/rag/internal/config"
	"github.com/pacifichansard/rag/internal/embedder"
	"github.com/pacifichansard/rag/internal/index"
	"github.com/pacifichansard/rag/internal/ingestion"
	"github.com/pacifichansard/rag/internal/intake"
	"github.com/pacifichansard/rag/internal/llm"
	"github.com/pacifichansard/rag/internal/metrics"
	"github.com/pacifichansard/rag/internal/repository"
	"github.com/pacifichansard/rag/internal/repository/postgres"
	"github.com/pacifichansard/rag/internal/reranker"
	"github.com/pacifichansard/rag/internal/retrieval"
	"github.com/pacifichansard/rag/internal/server"
	"github.com/pacifichansard/rag/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting hansardd",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"version", cfg.Version,
	)

	// PostgreSQL
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	slog.Info("connected to PostgreSQL")

	docRepo := postgres.NewDocumentRepo(db)

	// Qdrant
	gateway, err := index.NewQdrantGateway(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer gateway.Close()
	slog.Info("connected to Qdrant", "collection", cfg.QdrantCollection)

	// Ollama embedder; the first call discovers the embedding dimension,
	// which fixes the collection's dense vector size.
	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:    cfg.OllamaURL,
		Model:      cfg.OllamaEmbeddingModel,
		HTTPClient: &http.Client{Timeout: cfg.EmbedTimeout},
	})
	dim, err := embed.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover embedding dimension: %w", err)
	}
	if err := gateway.EnsureCollection(ctx, dim); err != nil {
		return fmt.Errorf("failed to ensure index collection: %w", err)
	}
	slog.Info("index collection ready", "model", cfg.OllamaEmbeddingModel, "dimension", dim)

	// Ollama generator
	generator := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.GenerateTimeout}),
	)
	slog.Info("initialized Ollama generator", "model", cfg.OllamaLLMModel)

	var rr retrieval.Reranker
	switch cfg.RerankStrategy {
	case "lexical":
		rr = reranker.NewLexicalReranker()
	case "llm":
		rr = reranker.NewLLMReranker(generator)
	default:
		rr = reranker.Noop{}
	}

	m := metrics.New()

	searcher := retrieval.NewRetriever(embed, gateway, rr, slog.Default())
	enhanced := retrieval.NewEnhancedRetriever(searcher, slog.Default(),
		retrieval.WithPassHook(m.ObserveRetrievalPass))

	sanitizer := llm.NewSanitizer(cfg.StripCJK, cfg.HallucinationDefaults())

	var store cache.Cache
	switch cfg.CacheBackend {
	case "memory":
		store = cache.NewMemoryCache()
	case "redis":
		store, err = cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}
	if store != nil {
		defer store.Close()
		slog.Info("response cache enabled", "backend", cfg.CacheBackend)
	}

	ragOpts := []service.RAGOption{
		service.WithLogger(slog.Default()),
		service.WithDefaults(cfg.DefaultTopK, cfg.DefaultTemperature),
		service.WithGeneratorLimit(cfg.GeneratorMaxConcurrent, cfg.GeneratorQueueWait),
		service.WithGenerationHook(m.ObserveGeneration),
	}
	if store != nil {
		ragOpts = append(ragOpts, service.WithAnswerCache(
			cache.Observed(store, "answers", m.ObserveCache), cfg.AnswerTTL))
	}
	ragSvc := service.NewRAGService(searcher, enhanced, generator, sanitizer, ragOpts...)

	chunkCfg := ingestion.ChunkerConfig{
		Strategy:           cfg.ChunkStrategy,
		MaxChars:           cfg.ChunkMaxChars,
		OverlapChars:       cfg.ChunkOverlapChars,
		MinTopicSplitChars: cfg.ChunkMinTopicSplit,
	}
	if err := ingestion.ValidateChunkerConfig(chunkCfg); err != nil {
		return fmt.Errorf("invalid chunker config: %w", err)
	}
	pipeline := ingestion.NewPipeline(chunkCfg)
	docOpts := []service.DocumentOption{service.WithDocumentLogger(slog.Default())}
	if store != nil {
		docOpts = append(docOpts, service.WithStatsCache(
			cache.Observed(store, "stats", m.ObserveCache), cfg.StatsTTL))
	}
	docSvc := service.NewDocumentService(docRepo, pipeline, embed, gateway, docOpts...)

	var consumer *intake.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		consumer = intake.NewConsumer(intake.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
			Logger:  slog.Default(),
		}, docSvc)
	}

	httpServer, err := server.NewHTTPServer(server.Config{
		Port:      cfg.HTTPPort,
		Version:   cfg.Version,
		Logger:    slog.Default(),
		RAG:       ragSvc,
		Documents: docSvc,
		Index:     gateway,
		Generator: generator,
		Metrics:   m,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	if consumer != nil {
		go func() {
			if err := consumer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("intake consumer error: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if consumer != nil {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close intake consumer", "error", err)
		}
	}
	cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.DocumentRepository = (*postgres.DocumentRepo)(nil)
	_ index.Gateway                 = (*index.QdrantGateway)(nil)
	_ embedder.Embedder             = (*embedder.OllamaEmbedder)(nil)
	_ llm.Generator                 = (*llm.OllamaClient)(nil)
	_ retrieval.Searcher            = (*retrieval.Retriever)(nil)
)
