package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/api"
	"github.com/calder-labs/hoplite/internal/chat"
	"github.com/calder-labs/hoplite/internal/config"
	"github.com/calder-labs/hoplite/internal/embedding"
	"github.com/calder-labs/hoplite/internal/provider"
	"github.com/calder-labs/hoplite/internal/reason"
	"github.com/calder-labs/hoplite/internal/retrieval"
	"github.com/calder-labs/hoplite/internal/session"
	"github.com/calder-labs/hoplite/internal/store"
	"github.com/calder-labs/hoplite/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting hoplite...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/hoplite.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Generative providers
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
		}
		var p provider.Provider
		switch pc.Type {
		case "openai":
			p = provider.NewOpenAIProvider(provCfg, logger)
		case "anthropic":
			p = provider.NewAnthropicProvider(provCfg, logger)
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
			continue
		}
		router.Register(p)
		if pc.Fallback {
			router.AddFallback(pc.ID)
		}
	}
	if len(router.ListProviders()) == 0 {
		logger.Fatal("no generative providers configured")
	}

	// Embedding provider
	embCfg := embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	}
	var embedder embedding.Provider
	switch cfg.Embedding.Provider {
	case "local":
		embedder = embedding.NewLocalProvider(embCfg)
	default:
		embedder = embedding.NewAPIProvider(embCfg)
	}

	// Vector index
	qdrant, err := vectorstore.NewClient(vectorstore.QdrantConfig{
		Host: cfg.Database.Qdrant.Host,
		Port: cfg.Database.Qdrant.Port,
	})
	if err != nil {
		logger.Fatal("qdrant unavailable", zap.Error(err))
	}
	defer qdrant.Close()

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Probe the embedder once so a misconfigured dimension fails at
	// startup instead of on the first request.
	probe, err := embedding.EmbedOne(startupCtx, embedder, "dimension probe")
	if err != nil {
		logger.Fatal("embedding provider unavailable", zap.Error(err))
	}
	dimension := len(probe)
	if cfg.Embedding.Dimension > 0 && dimension != cfg.Embedding.Dimension {
		logger.Fatal("embedding dimension mismatch",
			zap.Int("configured", cfg.Embedding.Dimension), zap.Int("actual", dimension))
	}

	collection := cfg.Database.Qdrant.Collection
	if existing, err := qdrant.CollectionDimension(startupCtx, collection); err == nil && existing > 0 && int(existing) != dimension {
		logger.Fatal("collection dimension mismatch",
			zap.String("collection", collection),
			zap.Uint64("collection_dim", existing), zap.Int("embedder_dim", dimension))
	}
	if err := qdrant.EnsureCollection(startupCtx, collection, uint64(dimension)); err != nil {
		logger.Fatal("failed to ensure collection", zap.Error(err))
	}

	// Long-term conversation store
	var convStore session.ConversationStore
	var closeStore func()
	switch cfg.Database.Store {
	case "redis":
		rs, err := store.NewRedis(startupCtx, cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Fatal("redis unavailable", zap.Error(err))
		}
		convStore = rs
		closeStore = func() { rs.Close() }
	default:
		pg, err := store.NewPostgres(startupCtx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Fatal("postgres unavailable", zap.Error(err))
		}
		if err := pg.Migrate(startupCtx, "migrations"); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		convStore = pg
		closeStore = pg.Close
	}
	defer closeStore()

	// Core pipeline
	sessions := session.NewCache(convStore, cfg.Chat.CacheCapacity, logger)
	engine := retrieval.NewEngine(embedder, qdrant, collection, dimension, logger)
	gen := chat.NewRouterGenerator(router, cfg.Chat.Model)

	decomposer := reason.NewDecomposer(gen, logger)
	executor := reason.NewExecutor(engine, gen, cfg.Chat.TopK, logger)
	synthesizer := reason.NewSynthesizer(gen, logger)

	chatSvc := chat.NewService(decomposer, executor, synthesizer, engine, sessions, gen, chat.Options{
		HistoryLimit: cfg.Chat.HistoryLimit,
		TopK:         cfg.Chat.TopK,
		DefaultHops:  cfg.Chat.DefaultHops,
	}, logger)

	var pinger api.Pinger
	if p, ok := router.GetProvider(router.DefaultID()); ok {
		pinger = p
	}
	handler := api.NewHandler(chatSvc, sessions, engine, pinger, cfg.Chat.HistoryLimit, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("hoplite listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down hoplite...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
