// Package orchestrator drives the ingestion pipeline: periodic fetch cycles
// feed the duplicate filter and storage, accepted items flow into the
// translation queue, and finished bundles are published through the gate.
// Backfill and cleanup run as independent loops alongside the cycles.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deusflow/newsflow/internal/config"
	"github.com/deusflow/newsflow/internal/dedup"
	"github.com/deusflow/newsflow/internal/feed"
	"github.com/deusflow/newsflow/internal/fetcher"
	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/metrics"
	"github.com/deusflow/newsflow/internal/publish"
	"github.com/deusflow/newsflow/internal/storage"
	"github.com/deusflow/newsflow/internal/taskqueue"
	"github.com/deusflow/newsflow/internal/translate"
)

// Store is the storage surface the orchestrator drives.
type Store interface {
	ActiveFeeds(ctx context.Context) ([]feed.Feed, error)
	UpsertItem(ctx context.Context, item storage.Item) error
	UpsertTranslation(ctx context.Context, t storage.Translation) error
	GetTranslations(ctx context.Context, itemID string) (map[string]storage.Translation, error)
	UnsentItems(ctx context.Context, limit int) ([]storage.Item, error)
	DeleteOldItems(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Publisher performs the gated send for one stored item.
type Publisher interface {
	Publish(ctx context.Context, fd feed.Feed, itemID, message string) (bool, error)
}

type Orchestrator struct {
	cfg        *config.Config
	store      Store
	fetcher    *fetcher.Fetcher
	queue      *taskqueue.Queue
	backfiller *dedup.Backfiller
	publisher  Publisher
}

func New(cfg *config.Config, store Store, f *fetcher.Fetcher, q *taskqueue.Queue,
	bf *dedup.Backfiller, pub Publisher) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		fetcher:    f,
		queue:      q,
		backfiller: bf,
		publisher:  pub,
	}
}

// Run blocks until ctx ends, running the fetch cycle, embedding backfill and
// retention cleanup loops concurrently. The first cycle starts immediately.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.cycleLoop(ctx)
	}()

	if o.backfiller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard("embedding backfill", func() {
				if err := o.backfiller.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("embedding backfill loop exited", "error", err)
				}
			})
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.cleanupLoop(ctx)
	}()

	wg.Wait()
	logger.Info("orchestrator stopped")
}

func (o *Orchestrator) cycleLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()

	guard("fetch cycle", func() { o.runCycle(ctx) })
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			guard("fetch cycle", func() { o.runCycle(ctx) })
		}
	}
}

// guard turns a panic into a logged error so one bad iteration cannot take
// the other loops down with it.
func guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Global.SetError(fmt.Sprintf("panic in %s: %v", name, r))
			logger.Error("recovered from panic", "in", name, "panic", r)
		}
	}()
	fn()
}

// runCycle performs one fetch pass: load feeds, fetch and deduplicate, store
// accepted items and hand them to the translation queue.
func (o *Orchestrator) runCycle(ctx context.Context) {
	start := time.Now()
	logger.Info("fetch cycle started")

	feeds, err := o.loadFeeds(ctx)
	if err != nil {
		metrics.Global.SetError(err.Error())
		logger.Error("loading feeds failed", "error", err)
		return
	}
	if len(feeds) == 0 {
		logger.Warn("no active feeds configured")
		return
	}
	byID := make(map[string]feed.Feed, len(feeds))
	for _, fd := range feeds {
		byID[fd.ID] = fd
	}

	// Items throttled in earlier cycles come first; they are already
	// translated and only wait on their feed's gate.
	o.resendUnsent(ctx, byID)

	candidates := o.fetcher.FetchAll(ctx, feeds)

	stored, enqueued := 0, 0
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			logger.Warn("fetch cycle interrupted", "error", err)
			break
		}
		if err := o.storeCandidate(ctx, cand); err != nil {
			// Storage failure for one item must not sink the cycle.
			logger.Error("storing item failed", "item", cand.ID, "error", err)
			continue
		}
		stored++

		if o.enqueueTranslation(cand, byID[cand.FeedID]) {
			enqueued++
		} else {
			metrics.Global.IncrementTranslationsDropped()
			logger.Warn("translation queue full, item stored untranslated", "item", cand.ID)
		}
	}

	elapsed := time.Since(start)
	metrics.Global.RecordCycleTime(elapsed)
	metrics.Global.SetLastRun()
	logger.Info("fetch cycle finished",
		"feeds", len(feeds), "candidates", len(candidates),
		"stored", stored, "enqueued", enqueued, "took", elapsed.Round(time.Millisecond))
}

// loadFeeds prefers the feeds table and falls back to the YAML file when the
// table is empty, so a fresh deployment works before the table is populated.
func (o *Orchestrator) loadFeeds(ctx context.Context) ([]feed.Feed, error) {
	feeds, err := o.store.ActiveFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("active feeds: %w", err)
	}
	if len(feeds) > 0 {
		return feeds, nil
	}

	feeds, err = feed.LoadFromYAML(o.cfg.FeedsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("feeds config %s: %w", o.cfg.FeedsConfigPath, err)
	}
	return feed.Active(feeds), nil
}

func (o *Orchestrator) storeCandidate(ctx context.Context, cand fetcher.Candidate) error {
	err := o.store.UpsertItem(ctx, storage.Item{
		ID:        cand.ID,
		FeedID:    cand.FeedID,
		Lang:      cand.Lang,
		Title:     cand.Title,
		Content:   cand.Content,
		Category:  cand.Category,
		Source:    cand.Source,
		Link:      cand.Link,
		ImageURL:  cand.ImageURL,
		Embedding: cand.Embedding,
		Published: cand.Published,
	})
	if err != nil {
		return err
	}
	metrics.Global.IncrementItemsStored()
	return nil
}

// enqueueTranslation hands the item to the queue. Callbacks run on worker
// goroutines after the cycle has moved on, so they carry their own deadline
// instead of the cycle context.
func (o *Orchestrator) enqueueTranslation(cand fetcher.Candidate, fd feed.Feed) bool {
	return o.queue.AddTask(&taskqueue.Task{
		ID:         cand.ID,
		Title:      cand.Title,
		Content:    cand.Content,
		SourceLang: cand.Lang,
		OnSuccess: func(bundle translate.Bundle, taskID string) {
			o.handleBundle(cand, fd, bundle)
		},
		OnError: func(err error, taskID string) {
			// Per-language failure counters are bumped inside the engine.
			logger.Warn("translation failed, item stays untranslated",
				"item", taskID, "error", err)
		},
	})
}

// handleBundle persists the finished translations and attempts the publish.
func (o *Orchestrator) handleBundle(cand fetcher.Candidate, fd feed.Feed, bundle translate.Bundle) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RequestTimeout)
	defer cancel()

	for lang, tr := range bundle {
		if lang == cand.Lang {
			continue
		}
		// A rendering identical to the source is a no-op, not a translation.
		if tr.Title == cand.Title && tr.Content == cand.Content {
			continue
		}
		err := o.store.UpsertTranslation(ctx, storage.Translation{
			ItemID:  cand.ID,
			Lang:    lang,
			Title:   tr.Title,
			Content: tr.Content,
		})
		if err != nil {
			logger.Error("storing translation failed",
				"item", cand.ID, "lang", lang, "error", err)
			continue
		}
	}

	message := publish.FormatMessage(cand.Title, cand.Link, cand.Content, cand.Lang,
		bundle, o.cfg.TargetLanguages)
	sent, err := o.publisher.Publish(ctx, fd, cand.ID, message)
	if err != nil {
		logger.Error("publish failed", "item", cand.ID, "error", err)
		return
	}
	if sent {
		logger.Info("item published", "item", cand.ID, "feed", fd.ID)
	}
}

const resendBatch = 20

// resendUnsent retries stored items a previous cycle could not publish.
// Items without stored translations are still in the queue (or failed) and
// are left alone.
func (o *Orchestrator) resendUnsent(ctx context.Context, feeds map[string]feed.Feed) {
	items, err := o.store.UnsentItems(ctx, resendBatch)
	if err != nil {
		logger.Error("listing unsent items failed", "error", err)
		return
	}

	for _, item := range items {
		fd, ok := feeds[item.FeedID]
		if !ok {
			continue
		}

		stored, err := o.store.GetTranslations(ctx, item.ID)
		if err != nil {
			logger.Error("loading translations failed", "item", item.ID, "error", err)
			continue
		}
		if len(stored) == 0 {
			continue
		}

		bundle := make(translate.Bundle, len(stored))
		for lang, tr := range stored {
			bundle[lang] = translate.Translation{Title: tr.Title, Content: tr.Content}
		}

		message := publish.FormatMessage(item.Title, item.Link, item.Content, item.Lang,
			bundle, o.cfg.TargetLanguages)
		sent, err := o.publisher.Publish(ctx, fd, item.ID, message)
		if err != nil {
			logger.Error("resend failed", "item", item.ID, "error", err)
			continue
		}
		if sent {
			logger.Info("previously throttled item published", "item", item.ID, "feed", fd.ID)
		}
	}
}

func (o *Orchestrator) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.CleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			guard("retention cleanup", func() { o.runCleanup(ctx) })
		}
	}
}

func (o *Orchestrator) runCleanup(ctx context.Context) {
	removed, err := o.store.DeleteOldItems(ctx, o.cfg.CleanupMaxAge)
	if err != nil {
		logger.Error("retention cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("retention cleanup done", "removed", removed)
	}
}
