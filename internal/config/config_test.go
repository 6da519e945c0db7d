package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/newsflow_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.FetchConcurrency)
	assert.Equal(t, 30, cfg.MaxEntriesPerFeed)
	assert.Equal(t, 5, cfg.NeighborCount)
	assert.InDelta(t, 0.85, cfg.TitleThreshold, 0.001)
	assert.InDelta(t, 0.95, cfg.ContentThreshold, 0.001)
	assert.Equal(t, []string{"en", "da", "uk", "de"}, cfg.TargetLanguages)
	assert.Equal(t, "en", cfg.PivotLanguage)
	assert.Equal(t, 4, cfg.MaxCachedModels)
	assert.Equal(t, 2*time.Hour, cfg.ModelTTL)
	assert.Equal(t, 100, cfg.QueueCapacity)
	assert.Equal(t, 3, cfg.QueueWorkers)
	assert.Equal(t, 15*time.Minute, cfg.CycleInterval)
	assert.Equal(t, "http://localhost:8090", cfg.InferenceURL)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/newsflow_test")
	t.Setenv("FETCH_CONCURRENCY", "16")
	t.Setenv("CYCLE_INTERVAL", "5m")
	t.Setenv("DEDUP_TITLE_THRESHOLD", "0.9")
	t.Setenv("TARGET_LANGUAGES", "EN, da ,UK")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.FetchConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.CycleInterval)
	assert.InDelta(t, 0.9, cfg.TitleThreshold, 0.001)
	assert.Equal(t, []string{"en", "da", "uk"}, cfg.TargetLanguages)
	assert.True(t, cfg.Debug)
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/newsflow_test")
	t.Setenv("FETCH_CONCURRENCY", "not-a-number")
	t.Setenv("MODEL_TTL", "-5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.FetchConcurrency)
	assert.Equal(t, 2*time.Hour, cfg.ModelTTL)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DatabaseURL:     "postgres://x",
			QueueWorkers:    1,
			QueueCapacity:   1,
			MaxCachedModels: 1,
			PivotLanguage:   "en",
			InferenceURL:    "http://localhost:8090",
		}
	}

	assert.NoError(t, base().Validate())

	c := base()
	c.QueueWorkers = 0
	assert.Error(t, c.Validate())

	c = base()
	c.PivotLanguage = ""
	assert.Error(t, c.Validate())

	c = base()
	c.InferenceURL = ""
	assert.Error(t, c.Validate())
}
