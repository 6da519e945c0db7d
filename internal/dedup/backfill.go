package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/deusflow/newsflow/internal/embedding"
	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/metrics"
)

// Backfiller computes embeddings for stored items that never got one, at a
// bounded rate so a large backlog does not overload the embedding model.
type Backfiller struct {
	gen       *embedding.Generator
	store     Store
	batchSize int
	itemDelay time.Duration // pause between items within a batch
	interval  time.Duration // pause between batches when looping
}

type BackfillOptions struct {
	BatchSize int           // items per sweep, default 20
	ItemDelay time.Duration // default 500ms
	Interval  time.Duration // default 10m
}

func NewBackfiller(gen *embedding.Generator, store Store, opts BackfillOptions) *Backfiller {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.ItemDelay <= 0 {
		opts.ItemDelay = 500 * time.Millisecond
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	return &Backfiller{
		gen:       gen,
		store:     store,
		batchSize: opts.BatchSize,
		itemDelay: opts.ItemDelay,
		interval:  opts.Interval,
	}
}

// RunOnce processes a single batch and returns how many items were updated.
func (b *Backfiller) RunOnce(ctx context.Context) (int, error) {
	pending, err := b.store.ItemsMissingEmbedding(ctx, b.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending items: %w", err)
	}

	done := 0
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		vec, err := b.gen.Embed(ctx, combine(item.Title, item.Content), item.Lang)
		if err != nil {
			logger.Warn("backfill embedding failed", "item", item.ID, "error", err)
			continue
		}
		if err := b.store.UpdateEmbedding(ctx, item.ID, vec); err != nil {
			logger.Warn("backfill update failed", "item", item.ID, "error", err)
			continue
		}
		done++
		metrics.Global.IncrementEmbeddingsBackfilled()

		if !sleepCtx(ctx, b.itemDelay) {
			return done, ctx.Err()
		}
	}

	if done > 0 {
		logger.Info("embedding backfill batch complete", "updated", done, "pending", len(pending))
	}
	return done, nil
}

// Run loops batches until ctx is cancelled.
func (b *Backfiller) Run(ctx context.Context) error {
	for {
		if _, err := b.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("embedding backfill batch failed", "error", err)
		}
		if !sleepCtx(ctx, b.interval) {
			return ctx.Err()
		}
	}
}

// sleepCtx waits d or returns false as soon as ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
