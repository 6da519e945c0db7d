package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsflow/internal/config"
	"github.com/deusflow/newsflow/internal/feed"
	"github.com/deusflow/newsflow/internal/fetcher"
	"github.com/deusflow/newsflow/internal/storage"
	"github.com/deusflow/newsflow/internal/translate"
)

type fakeStore struct {
	feeds        []feed.Feed
	feedsErr     error
	items        []storage.Item
	translations []storage.Translation
	unsent       []storage.Item
	stored       map[string]map[string]storage.Translation
	deletedAges  []time.Duration
}

func (s *fakeStore) ActiveFeeds(_ context.Context) ([]feed.Feed, error) {
	return s.feeds, s.feedsErr
}

func (s *fakeStore) GetTranslations(_ context.Context, itemID string) (map[string]storage.Translation, error) {
	return s.stored[itemID], nil
}

func (s *fakeStore) UnsentItems(_ context.Context, _ int) ([]storage.Item, error) {
	return s.unsent, nil
}

func (s *fakeStore) UpsertItem(_ context.Context, item storage.Item) error {
	s.items = append(s.items, item)
	return nil
}

func (s *fakeStore) UpsertTranslation(_ context.Context, t storage.Translation) error {
	s.translations = append(s.translations, t)
	return nil
}

func (s *fakeStore) DeleteOldItems(_ context.Context, maxAge time.Duration) (int64, error) {
	s.deletedAges = append(s.deletedAges, maxAge)
	return 1, nil
}

type fakePublisher struct {
	published []string
	throttled bool
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, _ feed.Feed, itemID, _ string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	if p.throttled {
		return false, nil
	}
	p.published = append(p.published, itemID)
	return true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		TargetLanguages: []string{"en", "de"},
		RequestTimeout:  5 * time.Second,
		FeedsConfigPath: "does-not-exist.yaml",
	}
}

func TestHandleBundleStoresTranslationsAndPublishes(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	o := New(testConfig(), store, nil, nil, nil, pub)

	cand := fetcher.Candidate{
		ID: "item-1", Title: "Dansk overskrift", Content: "Dansk tekst",
		Link: "https://example.com/1", Lang: "da",
	}
	bundle := translate.Bundle{
		"en": {Title: "English headline", Content: "English body"},
		"de": {Title: "Deutsche Überschrift", Content: "Deutscher Text"},
	}

	o.handleBundle(cand, feed.Feed{ID: "f"}, bundle)

	require.Len(t, store.translations, 2)
	langs := []string{store.translations[0].Lang, store.translations[1].Lang}
	assert.ElementsMatch(t, []string{"en", "de"}, langs)
	assert.Equal(t, []string{"item-1"}, pub.published)
}

func TestHandleBundleSkipsOriginAndNoOps(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	o := New(testConfig(), store, nil, nil, nil, pub)

	cand := fetcher.Candidate{
		ID: "item-1", Title: "Same title", Content: "Same content", Lang: "da",
	}
	bundle := translate.Bundle{
		// Origin language never stores a translation row.
		"da": {Title: "Anything", Content: "Anything"},
		// Byte-identical output is a no-op, not a translation.
		"en": {Title: "Same title", Content: "Same content"},
		"de": {Title: "Echte Übersetzung", Content: "Deutscher Inhalt"},
	}

	o.handleBundle(cand, feed.Feed{ID: "f"}, bundle)

	require.Len(t, store.translations, 1)
	assert.Equal(t, "de", store.translations[0].Lang)
}

func TestHandleBundleThrottledPublishIsQuiet(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{throttled: true}
	o := New(testConfig(), store, nil, nil, nil, pub)

	cand := fetcher.Candidate{ID: "item-1", Title: "T", Content: "C", Lang: "da"}
	o.handleBundle(cand, feed.Feed{ID: "f"}, translate.Bundle{
		"en": {Title: "English headline", Content: "Body"},
	})

	assert.Empty(t, pub.published)
	assert.Len(t, store.translations, 1, "translations are stored even when sending is throttled")
}

func TestLoadFeedsPrefersStore(t *testing.T) {
	store := &fakeStore{feeds: []feed.Feed{{ID: "from-db", Active: true}}}
	o := New(testConfig(), store, nil, nil, nil, &fakePublisher{})

	feeds, err := o.loadFeeds(context.Background())
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "from-db", feeds[0].ID)
}

func TestLoadFeedsFallsBackToYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`feeds:
  - id: from-yaml
    url: https://example.com/rss
    language: da
    active: true
  - id: inactive
    url: https://example.com/off
    language: da
    active: false
`), 0o644))

	cfg := testConfig()
	cfg.FeedsConfigPath = path
	o := New(cfg, &fakeStore{}, nil, nil, nil, &fakePublisher{})

	feeds, err := o.loadFeeds(context.Background())
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "from-yaml", feeds[0].ID)
}

func TestLoadFeedsStoreErrorPropagates(t *testing.T) {
	store := &fakeStore{feedsErr: fmt.Errorf("db down")}
	o := New(testConfig(), store, nil, nil, nil, &fakePublisher{})

	_, err := o.loadFeeds(context.Background())
	assert.Error(t, err)
}

func TestResendUnsentPublishesTranslatedItems(t *testing.T) {
	store := &fakeStore{
		unsent: []storage.Item{
			{ID: "ready", FeedID: "f", Title: "T", Content: "C", Lang: "da"},
			{ID: "pending", FeedID: "f", Title: "T2", Content: "C2", Lang: "da"},
			{ID: "orphan", FeedID: "gone", Title: "T3", Content: "C3", Lang: "da"},
		},
		stored: map[string]map[string]storage.Translation{
			"ready": {"en": {ItemID: "ready", Lang: "en", Title: "ET", Content: "EC"}},
		},
	}
	pub := &fakePublisher{}
	o := New(testConfig(), store, nil, nil, nil, pub)

	o.resendUnsent(context.Background(), map[string]feed.Feed{"f": {ID: "f"}})

	// Only the item with stored translations and a known feed goes out.
	assert.Equal(t, []string{"ready"}, pub.published)
}

func TestGuardRecoversFromPanic(t *testing.T) {
	ran := false
	assert.NotPanics(t, func() {
		guard("test loop", func() {
			ran = true
			panic("iteration exploded")
		})
	})
	assert.True(t, ran)
}

func TestStoreCandidateMapsFields(t *testing.T) {
	store := &fakeStore{}
	o := New(testConfig(), store, nil, nil, nil, &fakePublisher{})

	published := time.Now()
	err := o.storeCandidate(context.Background(), fetcher.Candidate{
		ID: "item-1", FeedID: "f", Title: "T", Content: "C", Link: "L",
		Lang: "da", Category: "news", Source: "DR", ImageURL: "img",
		Published: published, Embedding: []float32{1, 0},
	})

	require.NoError(t, err)
	require.Len(t, store.items, 1)
	item := store.items[0]
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, "f", item.FeedID)
	assert.Equal(t, []float32{1, 0}, item.Embedding)
	assert.Equal(t, published, item.Published)
}
