package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Storage settings
	DatabaseURL     string
	DBMaxConns      int
	DBMinConns      int
	FeedsConfigPath string // YAML fallback when the feeds table is empty

	// Fetch settings
	FetchConcurrency  int           // parallel feed downloads
	MaxEntriesPerFeed int           // cap of entries processed per feed
	FetchTimeout      time.Duration // per-feed HTTP timeout
	EntryMaxAge       time.Duration // ignore entries older than this

	// Duplicate detection settings
	NeighborCount      int // k nearest stored items compared per candidate
	TitleThreshold     float64
	ContentThreshold   float64
	MaxLinguisticCache int // resident per-language normalization resources

	// Translation settings
	TargetLanguages      []string
	PivotLanguage        string
	MaxCachedModels      int
	ModelTTL             time.Duration
	MemoryHighWater      float64 // percent of system memory triggering emergency eviction
	MemoryCheckInterval  time.Duration
	TranslateConcurrency int // simultaneous engine invocations
	TranslateBatchSize   int // sentences per model call under normal memory
	BundleCacheTTL       time.Duration

	// Task queue settings
	QueueCapacity int
	QueueWorkers  int

	// Orchestrator settings
	CycleInterval   time.Duration
	BackfillBatch   int
	BackfillDelay   time.Duration // pause between backfilled items
	BackfillEvery   time.Duration
	CleanupEvery    time.Duration
	CleanupMaxAge   time.Duration // retention window for stored items
	ShutdownTimeout time.Duration

	// Telegram settings
	TelegramToken  string
	TelegramChatID string

	// App settings
	InferenceURL   string // inference sidecar base URL
	MonitoringAddr string // health/metrics listen address
	Debug          bool
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		// Default values
		DBMaxConns:           10,
		DBMinConns:           2,
		FeedsConfigPath:      "configs/feeds.yaml",
		FetchConcurrency:     8,
		MaxEntriesPerFeed:    30,
		FetchTimeout:         30 * time.Second,
		EntryMaxAge:          24 * time.Hour,
		NeighborCount:        5,
		TitleThreshold:       0.85,
		ContentThreshold:     0.95,
		MaxLinguisticCache:   3,
		TargetLanguages:      []string{"en", "da", "uk", "de"},
		PivotLanguage:        "en",
		MaxCachedModels:      4,
		ModelTTL:             2 * time.Hour,
		MemoryHighWater:      85.0,
		MemoryCheckInterval:  time.Minute,
		TranslateConcurrency: 2,
		TranslateBatchSize:   16,
		BundleCacheTTL:       48 * time.Hour,
		QueueCapacity:        100,
		QueueWorkers:         3,
		CycleInterval:        15 * time.Minute,
		BackfillBatch:        20,
		BackfillDelay:        500 * time.Millisecond,
		BackfillEvery:        10 * time.Minute,
		CleanupEvery:         6 * time.Hour,
		CleanupMaxAge:        14 * 24 * time.Hour,
		ShutdownTimeout:      15 * time.Second,
		InferenceURL:         "http://localhost:8090",
		MonitoringAddr:       ":8080",
		RequestTimeout:       30 * time.Second,
		RetryAttempts:        3,
		RetryDelay:           5 * time.Second,
	}

	// Load from environment
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")

	cfg.FeedsConfigPath = getEnvOrDefault("FEEDS_CONFIG_PATH", cfg.FeedsConfigPath)
	cfg.DBMaxConns = getEnvIntOrDefault("DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = getEnvIntOrDefault("DB_MIN_CONNS", cfg.DBMinConns)

	cfg.FetchConcurrency = getEnvIntOrDefault("FETCH_CONCURRENCY", cfg.FetchConcurrency)
	cfg.MaxEntriesPerFeed = getEnvIntOrDefault("MAX_ENTRIES_PER_FEED", cfg.MaxEntriesPerFeed)
	cfg.FetchTimeout = getEnvDurationOrDefault("FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.EntryMaxAge = getEnvDurationOrDefault("ENTRY_MAX_AGE", cfg.EntryMaxAge)

	cfg.NeighborCount = getEnvIntOrDefault("DEDUP_NEIGHBORS", cfg.NeighborCount)
	cfg.TitleThreshold = getEnvFloatOrDefault("DEDUP_TITLE_THRESHOLD", cfg.TitleThreshold)
	cfg.ContentThreshold = getEnvFloatOrDefault("DEDUP_CONTENT_THRESHOLD", cfg.ContentThreshold)
	cfg.MaxLinguisticCache = getEnvIntOrDefault("MAX_LINGUISTIC_CACHE", cfg.MaxLinguisticCache)

	if v := os.Getenv("TARGET_LANGUAGES"); v != "" {
		var langs []string
		for _, l := range strings.Split(v, ",") {
			l = strings.TrimSpace(strings.ToLower(l))
			if l != "" {
				langs = append(langs, l)
			}
		}
		if len(langs) > 0 {
			cfg.TargetLanguages = langs
		}
	}
	cfg.PivotLanguage = getEnvOrDefault("PIVOT_LANGUAGE", cfg.PivotLanguage)
	cfg.MaxCachedModels = getEnvIntOrDefault("MAX_CACHED_MODELS", cfg.MaxCachedModels)
	cfg.ModelTTL = getEnvDurationOrDefault("MODEL_TTL", cfg.ModelTTL)
	cfg.MemoryHighWater = getEnvFloatOrDefault("MEMORY_HIGH_WATER", cfg.MemoryHighWater)
	cfg.MemoryCheckInterval = getEnvDurationOrDefault("MEMORY_CHECK_INTERVAL", cfg.MemoryCheckInterval)
	cfg.TranslateConcurrency = getEnvIntOrDefault("TRANSLATE_CONCURRENCY", cfg.TranslateConcurrency)
	cfg.TranslateBatchSize = getEnvIntOrDefault("TRANSLATE_BATCH_SIZE", cfg.TranslateBatchSize)
	cfg.BundleCacheTTL = getEnvDurationOrDefault("BUNDLE_CACHE_TTL", cfg.BundleCacheTTL)

	cfg.QueueCapacity = getEnvIntOrDefault("QUEUE_CAPACITY", cfg.QueueCapacity)
	cfg.QueueWorkers = getEnvIntOrDefault("QUEUE_WORKERS", cfg.QueueWorkers)

	cfg.CycleInterval = getEnvDurationOrDefault("CYCLE_INTERVAL", cfg.CycleInterval)
	cfg.BackfillBatch = getEnvIntOrDefault("BACKFILL_BATCH", cfg.BackfillBatch)
	cfg.BackfillDelay = getEnvDurationOrDefault("BACKFILL_DELAY", cfg.BackfillDelay)
	cfg.BackfillEvery = getEnvDurationOrDefault("BACKFILL_EVERY", cfg.BackfillEvery)
	cfg.CleanupEvery = getEnvDurationOrDefault("CLEANUP_EVERY", cfg.CleanupEvery)
	cfg.CleanupMaxAge = getEnvDurationOrDefault("CLEANUP_MAX_AGE", cfg.CleanupMaxAge)
	cfg.ShutdownTimeout = getEnvDurationOrDefault("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.InferenceURL = getEnvOrDefault("INFERENCE_URL", cfg.InferenceURL)
	cfg.MonitoringAddr = getEnvOrDefault("MONITORING_ADDR", cfg.MonitoringAddr)

	cfg.RequestTimeout = getEnvDurationOrDefault("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.RetryAttempts = getEnvIntOrDefault("RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryDelay = getEnvDurationOrDefault("RETRY_DELAY", cfg.RetryDelay)

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}

	return cfg, cfg.Validate()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil && floatValue > 0 {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.QueueWorkers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive")
	}
	if c.MaxCachedModels <= 0 {
		return fmt.Errorf("MAX_CACHED_MODELS must be positive")
	}
	if c.PivotLanguage == "" {
		return fmt.Errorf("PIVOT_LANGUAGE is required")
	}
	if c.InferenceURL == "" {
		return fmt.Errorf("INFERENCE_URL is required")
	}
	return nil
}
