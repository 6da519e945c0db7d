// Package fetcher downloads and parses the configured RSS feeds with bounded
// concurrency, extracts candidate items with graceful field fallbacks, and
// filters them through intra-cycle and cross-run duplicate checks.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/semaphore"

	"github.com/deusflow/newsflow/internal/dedup"
	"github.com/deusflow/newsflow/internal/feed"
	"github.com/deusflow/newsflow/internal/logger"
	"github.com/deusflow/newsflow/internal/metrics"
	"github.com/deusflow/newsflow/internal/textutil"
)

// Candidate is a freshly fetched, deduplicated entry ready for storage.
type Candidate struct {
	ID        string // content-derived, stable across re-fetch
	FeedID    string
	Title     string
	Content   string
	Link      string
	Lang      string
	Category  string
	Source    string
	ImageURL  string
	Published time.Time
	Embedding []float32 // computed during the duplicate check, persisted with the item
}

// Detector is the cross-run duplicate check consulted per entry.
type Detector interface {
	IsDuplicate(ctx context.Context, candidateID, title, content, link, lang string) (dedup.Result, error)
}

type Options struct {
	Concurrency       int           // simultaneous feed downloads, default 8
	MaxEntriesPerFeed int           // default 30
	Timeout           time.Duration // per-feed HTTP timeout, default 30s
	MaxAge            time.Duration // entries older than this are skipped; 0 disables
}

type Fetcher struct {
	detector   Detector
	client     *http.Client
	sem        *semaphore.Weighted
	maxEntries int
	maxAge     time.Duration
}

func New(detector Detector, opts Options) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.MaxEntriesPerFeed <= 0 {
		opts.MaxEntriesPerFeed = 30
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Fetcher{
		detector:   detector,
		client:     &http.Client{Timeout: opts.Timeout},
		sem:        semaphore.NewWeighted(int64(opts.Concurrency)),
		maxEntries: opts.MaxEntriesPerFeed,
		maxAge:     opts.MaxAge,
	}
}

// FetchAll fetches every feed concurrently under the semaphore. A failing
// feed is logged and skipped; it never cancels its siblings. Cross-feed
// ordering of the result is not guaranteed.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []feed.Feed) []Candidate {
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		candidates []Candidate
	)
	seen := newSeenSet()

	for _, fd := range feeds {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			logger.Warn("fetch cycle cancelled", "error", err)
			break
		}

		wg.Add(1)
		go func(fd feed.Feed) {
			defer wg.Done()
			defer f.sem.Release(1)

			items, err := f.fetchFeed(ctx, fd, seen)
			if err != nil {
				metrics.Global.IncrementFeedErrors()
				logger.Error("feed fetch failed", "feed", fd.ID, "url", fd.URL, "error", err)
				return
			}
			metrics.Global.IncrementFeedsFetched()

			mu.Lock()
			candidates = append(candidates, items...)
			mu.Unlock()
		}(fd)
	}

	wg.Wait()
	return candidates
}

// fetchFeed parses one feed and extracts its entries in document order, up to
// the per-feed cap.
func (f *Fetcher) fetchFeed(ctx context.Context, fd feed.Feed, seen *seenSet) ([]Candidate, error) {
	parser := gofeed.NewParser()
	parser.Client = f.client

	doc, err := parser.ParseURLWithContext(fd.URL, ctx)
	if err != nil {
		return nil, err
	}
	if len(doc.Items) == 0 {
		// A parsed feed with zero entries is not an error, just nothing to do.
		logger.Debug("feed has no entries", "feed", fd.ID)
		return nil, nil
	}

	limit := min(len(doc.Items), f.maxEntries)
	out := make([]Candidate, 0, limit)

	for _, item := range doc.Items[:limit] {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		metrics.Global.IncrementEntriesProcessed()

		cand, ok := f.extract(fd, item)
		if !ok {
			continue
		}

		// Intra-cycle dedup: the same story often appears in sibling feeds
		// within one fetch cycle, before it ever reaches storage.
		if !seen.add(cand.Source, cand.Category, cand.Title) {
			metrics.Global.IncrementDuplicatesFiltered()
			logger.Debug("duplicate within fetch cycle", "title", cand.Title)
			continue
		}

		res, err := f.detector.IsDuplicate(ctx, cand.ID, cand.Title, cand.Content, cand.Link, cand.Lang)
		if err != nil {
			// Detector failure must never read as "unique"; skip the entry
			// and let the next cycle retry it.
			logger.Error("duplicate check failed, skipping entry",
				"feed", fd.ID, "title", cand.Title, "error", err)
			continue
		}
		if res.Duplicate {
			metrics.Global.IncrementDuplicatesFiltered()
			logger.Debug("cross-run duplicate",
				"title", cand.Title, "match", res.Match.ID, "reason", res.Match.Reason)
			continue
		}

		cand.Embedding = res.Embedding
		out = append(out, cand)
	}

	logger.Info("feed fetched", "feed", fd.ID, "entries", len(doc.Items), "accepted", len(out))
	return out, nil
}

// extract pulls one entry's fields with fallbacks across the alternate names
// feeds actually use in the wild.
func (f *Fetcher) extract(fd feed.Feed, item *gofeed.Item) (Candidate, bool) {
	title := textutil.CollapseWhitespace(item.Title)
	link := strings.TrimSpace(item.Link)
	if title == "" || link == "" {
		return Candidate{}, false
	}

	content := firstNonEmpty(item.Content, item.Description)
	published := extractPublished(item)

	if f.maxAge > 0 && time.Since(published) > f.maxAge {
		return Candidate{}, false
	}

	return Candidate{
		ID:        DeriveID(title, content, link),
		FeedID:    fd.ID,
		Title:     title,
		Content:   content,
		Link:      link,
		Lang:      fd.Language,
		Category:  fd.Category,
		Source:    fd.Source,
		ImageURL:  extractImage(item),
		Published: published,
	}, true
}

// extractPublished tries the date fields in priority order and falls back to
// now when none parse.
func extractPublished(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
	}
	return time.Now()
}

func extractImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DeriveID hashes (title, content, link) into the stable item id, so
// re-fetching the same article always maps to the same row.
func DeriveID(title, content, link string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(link))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// seenSet is the intra-cycle duplicate filter, keyed by source, category and
// normalized title.
type seenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{keys: make(map[string]struct{})}
}

// add records the key and reports whether it was new.
func (s *seenSet) add(source, category, title string) bool {
	key := source + "|" + category + "|" + textutil.NormalizeTitle(title)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.keys[key]; dup {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}
