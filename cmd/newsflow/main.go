package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/deusflow/newsflow/internal/config"
	"github.com/deusflow/newsflow/internal/dedup"
	"github.com/deusflow/newsflow/internal/embedding"
	"github.com/deusflow/newsflow/internal/fetcher"
	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/mlclient"
	"github.com/deusflow/newsflow/internal/modelcache"
	"github.com/deusflow/newsflow/internal/orchestrator"
	"github.com/deusflow/newsflow/internal/publish"
	"github.com/deusflow/newsflow/internal/storage"
	"github.com/deusflow/newsflow/internal/taskqueue"
	"github.com/deusflow/newsflow/internal/translate"
)

func main() {
	// .env is optional; in deployment the environment is already set.
	_ = godotenv.Load()

	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("pipeline exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := storage.New(ctx, cfg.DatabaseURL, storage.PoolConfig{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	ml := mlclient.New(cfg.InferenceURL, mlclient.Options{
		Timeout:       cfg.RequestTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
	})

	gen, err := embedding.NewGenerator(ml, embedding.Options{
		TitleThreshold:     cfg.TitleThreshold,
		ContentThreshold:   cfg.ContentThreshold,
		MaxLinguisticCache: cfg.MaxLinguisticCache,
	})
	if err != nil {
		return err
	}

	detector := dedup.NewDetector(gen, store, dedup.Options{
		Neighbors:  cfg.NeighborCount,
		CheckLinks: true,
	})
	backfiller := dedup.NewBackfiller(gen, store, dedup.BackfillOptions{
		BatchSize: cfg.BackfillBatch,
		ItemDelay: cfg.BackfillDelay,
		Interval:  cfg.BackfillEvery,
	})

	models, err := modelcache.New(ml, modelcache.Options{
		MaxModels:       cfg.MaxCachedModels,
		TTL:             cfg.ModelTTL,
		MemoryHighWater: cfg.MemoryHighWater,
	})
	if err != nil {
		return err
	}
	go models.WatchMemory(ctx, cfg.MemoryCheckInterval)

	engine, err := translate.NewEngine(models,
		translate.NewQualityChecker(gen),
		translate.NewBundleCache(cfg.BundleCacheTTL),
		translate.Options{
			TargetLanguages: cfg.TargetLanguages,
			PivotLanguage:   cfg.PivotLanguage,
			Concurrency:     cfg.TranslateConcurrency,
			BatchSize:       cfg.TranslateBatchSize,
		})
	if err != nil {
		return err
	}

	queue := taskqueue.New(engine, cfg.QueueCapacity, cfg.QueueWorkers)
	queue.Start()

	publisher := publish.NewPublisher(
		publish.NewGate(store),
		newSender(cfg),
		store,
	)

	f := fetcher.New(detector, fetcher.Options{
		Concurrency:       cfg.FetchConcurrency,
		MaxEntriesPerFeed: cfg.MaxEntriesPerFeed,
		Timeout:           cfg.FetchTimeout,
		MaxAge:            cfg.EntryMaxAge,
	})

	monitoring := startMonitoring(cfg.MonitoringAddr, models)
	logger.Info("newsflow started",
		"targets", cfg.TargetLanguages, "pivot", cfg.PivotLanguage,
		"cycle", cfg.CycleInterval, "monitoring", cfg.MonitoringAddr)

	orch := orchestrator.New(cfg, store, f, queue, backfiller, publisher)
	orch.Run(ctx)

	// Shutdown: let in-flight translations finish inside the grace window,
	// then stop the pool and the monitoring server.
	logger.Info("shutting down", "grace", cfg.ShutdownTimeout)

	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := queue.WaitCompletion(waitCtx); err != nil {
		logger.Warn("translations still pending at shutdown", "pending", queue.Pending())
	}
	if err := queue.Stop(cfg.ShutdownTimeout); err != nil {
		logger.Warn("queue stop", "error", err)
	}

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	if err := monitoring.Shutdown(shutCtx); err != nil {
		logger.Warn("monitoring shutdown", "error", err)
	}

	logger.Info("newsflow stopped")
	return nil
}

// newSender returns the Telegram sender, or a log-only sender when no bot
// credentials are configured so the pipeline can run ingestion-only.
func newSender(cfg *config.Config) publish.Sender {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == "" {
		logger.Warn("telegram credentials missing, messages will only be logged")
		return logSender{}
	}
	return publish.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID, cfg.RequestTimeout)
}

type logSender struct{}

func (logSender) Send(_ context.Context, text string) error {
	logger.Info("publish (dry run)", "chars", len(text))
	return nil
}
