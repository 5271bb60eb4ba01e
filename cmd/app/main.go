// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"document-ai-indexing/internal/config"
	"document-ai-indexing/internal/domain/ports/adapter"
	aiAdapters "document-ai-indexing/internal/infra/adapters/ai"
	"document-ai-indexing/internal/infra/adapters/render"
	pg "document-ai-indexing/internal/infra/db/postgres"
	"document-ai-indexing/internal/infra/logging"
	"document-ai-indexing/internal/infra/metrics"
	red "document-ai-indexing/internal/infra/redis"
	"document-ai-indexing/internal/infra/s3storage"
	"document-ai-indexing/internal/infra/sched"
	"document-ai-indexing/internal/infra/web"
	"document-ai-indexing/internal/infra/worker"
	"document-ai-indexing/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (in-memory storage, fake analyzer)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	events := red.NewEventPublisher(redisClient, logger)

	// ---- Blob storage ----
	var blobs adapter.BlobStore
	if cfg.Runtime.Dev && cfg.Storage.Endpoint == "" {
		blobs = s3storage.NewMemoryStore()
		logger.Warn().Msg("using in-memory blob store")
	} else {
		store, err := s3storage.New(&cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("storage")
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Fatal().Err(err).Msg("storage bucket")
		}
		blobs = store
	}

	// ---- Repositories ----
	jobRepo := pg.NewIndexJobRepo(pool)
	docRepo := pg.NewDocumentRepo(pool)
	pageRepo := pg.NewPageRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Analyzer (OpenAI -> Gemini -> noop in dev) ----
	var analyzer adapter.PageAnalyzer
	switch {
	case cfg.AI.OpenAIKey != "":
		analyzer, err = aiAdapters.NewOpenAIAnalyzer(cfg.AI.OpenAIKey, cfg.AI.OpenAIBase, cfg.AI.DefaultModel,
			cfg.Indexing.CallTimeout, cfg.AI.InputTokenPriceMicros, cfg.AI.OutputTokenPriceMicros)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai analyzer")
		}
		logger.Info().Str("model", cfg.AI.DefaultModel).Msg("analyzer: OpenAI")
	case cfg.AI.GeminiKey != "":
		analyzer, err = aiAdapters.NewGeminiAnalyzer(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel,
			cfg.Indexing.CallTimeout, cfg.AI.InputTokenPriceMicros, cfg.AI.OutputTokenPriceMicros)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini analyzer")
		}
		logger.Info().Str("model", cfg.AI.DefaultModel).Msg("analyzer: Gemini")
	case cfg.Runtime.Dev:
		analyzer = aiAdapters.NewNoopAnalyzer()
		logger.Warn().Msg("analyzer: noop (dev mode)")
	default:
		logger.Fatal().Msg("no AI provider configured: set ai.openai_key or ai.gemini_key")
	}

	renderer := render.NewPDFRenderer()

	// ---- Use cases ----
	indexUC := usecase.NewIndexingUseCase(
		jobRepo, docRepo, pageRepo, blobs, renderer, analyzer, events, locker, txManager,
		usecase.Settings{
			Concurrency:   cfg.Indexing.Concurrency,
			BatchDelay:    cfg.Indexing.BatchDelay,
			LockTTL:       cfg.Indexing.LockTTL,
			RenderDPI:     cfg.Indexing.RenderDPI,
			RenderQuality: cfg.Indexing.RenderQuality,
			Model:         cfg.AI.DefaultModel,
			DetailLevel:   cfg.Indexing.DetailLevel,
		},
		logger,
	)
	exportUC := usecase.NewExportUseCase(docRepo, pageRepo, logger)

	// ---- Workers ----
	jobPool := worker.NewPool(cfg.Indexing.Concurrency*2, logger)
	jobPool.Start(ctx)
	defer jobPool.Stop()

	recovery := sched.NewRecoveryWorker(cfg.Indexing.RecoveryInterval, indexUC, jobPool, logger)
	go func() { _ = recovery.Run(ctx) }()

	// ---- HTTP ----
	metrics.MustRegister()
	server := web.NewServer(indexUC, exportUC, events, jobPool, cfg.Admin.APIKey, logger)
	go func() {
		if err := server.Start(cfg.Admin.Port); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
