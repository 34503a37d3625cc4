package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abenov/faq/internal/auth"
	"github.com/abenov/faq/internal/config"
	"github.com/abenov/faq/internal/embedder"
	"github.com/abenov/faq/internal/followup"
	"github.com/abenov/faq/internal/history"
	"github.com/abenov/faq/internal/knowledge"
	"github.com/abenov/faq/internal/llm"
	"github.com/abenov/faq/internal/ltr"
	"github.com/abenov/faq/internal/query"
	"github.com/abenov/faq/internal/rerank"
	"github.com/abenov/faq/internal/search"
	"github.com/abenov/faq/internal/server"
	"github.com/abenov/faq/internal/service"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting FAQ service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"search_backend", cfg.SearchBackend,
		"arbitrator", cfg.Arbitrator,
	)

	// PostgreSQL holds the knowledge base and the hybrid search functions.
	pool, err := knowledge.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	slog.Info("connected to PostgreSQL")

	store := knowledge.NewPostgresStore(pool)
	pgIndex := search.NewPostgresIndex(pool)

	var index search.Index = pgIndex
	if cfg.SearchBackend == "qdrant" {
		qIndex, err := search.NewQdrantIndex(cfg.QdrantGRPCURL)
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		defer qIndex.Close()
		slog.Info("connected to Qdrant")
		index = qIndex
	}

	// Embedder and chat model
	var emb embedder.Embedder
	var llmClient llm.LLM
	chatModel := cfg.ChatModel
	if cfg.LLMProvider == "ollama" {
		emb = embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaEmbeddingModel,
		})
		llmClient = llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.OllamaLLMModel),
		)
		chatModel = cfg.OllamaLLMModel
		slog.Info("initialized Ollama provider", "embedding_model", cfg.OllamaEmbeddingModel, "llm_model", cfg.OllamaLLMModel)
	} else {
		emb = embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.EmbeddingModel,
		})
		llmClient = llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, llm.WithOpenAIModel(cfg.ChatModel))
		slog.Info("initialized OpenAI provider", "embedding_model", cfg.EmbeddingModel, "chat_model", cfg.ChatModel)
	}

	// Arbitrator: LLM judge by default, learned model on request. A bad
	// model file fails startup rather than silently degrading.
	var (
		arbitrator  rerank.Arbitrator
		reloadModel func() error
	)
	if cfg.Arbitrator == "model" {
		model, err := ltr.Load(cfg.RankModelPath)
		if err != nil {
			return fmt.Errorf("failed to load ranking model: %w", err)
		}
		modelArb := rerank.NewModelArbitrator(model, pgIndex, emb, cfg.TopKIndex)
		arbitrator = modelArb
		var reloadMu sync.Mutex
		reloadModel = func() error {
			reloadMu.Lock()
			defer reloadMu.Unlock()
			fresh, err := ltr.Load(cfg.RankModelPath)
			if err != nil {
				return fmt.Errorf("failed to reload ranking model: %w", err)
			}
			modelArb.Swap(fresh)
			return nil
		}
		slog.Info("loaded ranking model", "path", cfg.RankModelPath)
	} else {
		arbitrator = rerank.NewLLMArbitrator(llmClient, chatModel)
	}

	// Conversation history
	var hist history.Store
	if cfg.HistoryBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer rdb.Close()
		slog.Info("connected to Redis", "addr", cfg.RedisAddr)
		hist = history.NewRedisStore(rdb,
			history.WithRedisMaxTurns(cfg.HistoryMaxTurns),
			history.WithRedisTTL(cfg.HistoryTTL),
		)
	} else {
		memStore := history.NewMemoryStore(
			history.WithMaxTurns(cfg.HistoryMaxTurns),
			history.WithTTL(cfg.HistoryTTL),
		)
		defer memStore.Close()
		hist = memStore
	}

	rules := query.DefaultRules()
	rules.FuzzyThreshold = cfg.FuzzyThreshold

	svc := service.New(
		query.NewGenerator(rules),
		search.NewRetriever(index, cfg.TopKIndex),
		emb,
		store,
		rerank.New(arbitrator, rerank.WithThresholds(cfg.RerankMinTop, cfg.RerankMinGap)),
		followup.NewResolver(llmClient, chatModel, followup.WithTriggers(cfg.FollowupMinScore, cfg.FollowupMaxWords)),
		hist,
		llmClient,
		chatModel,
		service.WithRefusalThreshold(cfg.SimNoAnswer),
		service.WithMaxUnique(cfg.MaxUnique),
	)

	httpServer := server.NewHTTPServer(svc, server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: cfg.AllowedOrigins,
		APIKey:         cfg.APIKey,
		JWTManager: auth.NewJWTManager(&auth.JWTConfig{
			Secret: cfg.JWTSecret,
			Expiry: cfg.JWTExpiry,
			Issuer: "faq-service",
		}),
		ReloadModel: reloadModel,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
