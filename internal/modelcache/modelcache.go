// Package modelcache keeps loaded translation models resident between
// requests, bounded by an LRU capacity, a time-to-live, and an emergency
// eviction path that kicks in under system memory pressure.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/deusflow/newsflow/internal/logger"
)

// ErrNoDirectModel is returned by loaders when no model exists for a pair;
// callers route through a pivot language instead.
var ErrNoDirectModel = errors.New("no direct model for language pair")

// Pair identifies a translation direction.
type Pair struct {
	Source string
	Target string
}

func (p Pair) String() string {
	return p.Source + "-" + p.Target
}

// TranslateOptions are decoding knobs passed through to the model.
type TranslateOptions struct {
	BeamSize      int
	ContextWindow int
}

// Model is a loaded translation model handle.
type Model interface {
	Translate(ctx context.Context, sentences []string, opts TranslateOptions) ([]string, error)
}

// Tokenizer is the model's tokenizer handle, used for length guards.
type Tokenizer interface {
	Count(text string) int
}

// Loader produces model handles. Loading is expensive; the cache makes sure
// each pair is loaded at most once at a time.
type Loader interface {
	Load(ctx context.Context, pair Pair) (Model, Tokenizer, error)
}

type resident struct {
	Model     Model
	Tokenizer Tokenizer
	LoadedAt  time.Time
	lastUsed  time.Time
}

type Stats struct {
	Loaded    int
	Hits      int64
	Misses    int64
	Evictions int64
}

type Options struct {
	MaxModels       int           // resident model bound, default 4
	TTL             time.Duration // model lifetime since load, default 2h
	MemoryHighWater float64       // percent of used memory triggering eviction, default 85
}

// Cache is the translation model cache. All state transitions run under one
// mutex so two requests can never evict-then-load the same pair twice.
type Cache struct {
	mu        sync.Mutex
	loader    Loader
	models    *expirable.LRU[string, *resident]
	highWater float64
	hits      int64
	misses    int64
	evictions atomic.Int64 // bumped from the LRU's eviction callback, which can fire off-lock on TTL expiry
}

func New(loader Loader, opts Options) (*Cache, error) {
	if loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if opts.MaxModels <= 0 {
		opts.MaxModels = 4
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	if opts.MemoryHighWater <= 0 {
		opts.MemoryHighWater = 85.0
	}

	c := &Cache{
		loader:    loader,
		highWater: opts.MemoryHighWater,
	}
	c.models = expirable.NewLRU[string, *resident](opts.MaxModels, func(key string, _ *resident) {
		c.evictions.Add(1)
		logger.Debug("translation model evicted", "pair", key)
	}, opts.TTL)

	return c, nil
}

// Get returns the model for pair, loading it on a miss. Expired entries are
// treated as absent and reloaded. ErrNoDirectModel passes through untouched.
func (c *Cache) Get(ctx context.Context, pair Pair) (Model, Tokenizer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pair.String()
	if ent, ok := c.models.Get(key); ok {
		c.hits++
		ent.lastUsed = time.Now()
		return ent.Model, ent.Tokenizer, nil
	}

	c.misses++
	model, tokenizer, err := c.loader.Load(ctx, pair)
	if err != nil {
		if errors.Is(err, ErrNoDirectModel) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load model %s: %w", key, err)
	}

	now := time.Now()
	c.models.Add(key, &resident{
		Model:     model,
		Tokenizer: tokenizer,
		LoadedAt:  now,
		lastUsed:  now,
	})
	logger.Info("translation model loaded", "pair", key, "resident", c.models.Len())

	return model, tokenizer, nil
}

// Clear drops every resident model.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models.Purge()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Loaded:    c.models.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions.Load(),
	}
}

// evictHalf drops the least-recently-used half of the cache.
func (c *Cache) evictHalf() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.models.Keys() // oldest first
	drop := (len(keys) + 1) / 2
	for i := 0; i < drop; i++ {
		c.models.Remove(keys[i])
	}
	return drop
}

// WatchMemory polls system memory usage and triggers an emergency eviction of
// roughly half the cache when usage crosses the high-water mark. Blocks until
// ctx is cancelled.
func (c *Cache) WatchMemory(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				logger.Warn("memory check failed", "error", err)
				continue
			}
			if vm.UsedPercent >= c.highWater {
				dropped := c.evictHalf()
				logger.Warn("memory pressure eviction",
					"used_percent", vm.UsedPercent, "high_water", c.highWater, "dropped", dropped)
			}
		}
	}
}
