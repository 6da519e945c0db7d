package dedup

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsflow/internal/embedding"
)

type fakeEmbedder struct {
	vector []float32
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return f.vector, nil
}

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	embeddings map[string][]float32
	linkIndex  map[string]string
	neighbors  []Neighbor
	pending    []PendingItem

	knnErr     error
	updatedIDs []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		embeddings: make(map[string][]float32),
		linkIndex:  make(map[string]string),
	}
}

func (s *fakeStore) GetEmbedding(_ context.Context, id string) ([]float32, bool, error) {
	vec, ok := s.embeddings[id]
	return vec, ok, nil
}

func (s *fakeStore) ExistsByLink(_ context.Context, link string) (string, bool, error) {
	id, ok := s.linkIndex[link]
	return id, ok, nil
}

func (s *fakeStore) KNearestEmbeddings(_ context.Context, _ []float32, _ int, _ string) ([]Neighbor, error) {
	if s.knnErr != nil {
		return nil, s.knnErr
	}
	return s.neighbors, nil
}

func (s *fakeStore) UpdateEmbedding(_ context.Context, id string, vec []float32) error {
	s.updatedIDs = append(s.updatedIDs, id)
	s.embeddings[id] = vec
	return nil
}

func (s *fakeStore) ItemsMissingEmbedding(_ context.Context, limit int) ([]PendingItem, error) {
	if limit < len(s.pending) {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func newTestDetector(t *testing.T, emb *fakeEmbedder, store Store, opts Options) *Detector {
	t.Helper()
	gen, err := embedding.NewGenerator(emb, embedding.Options{})
	require.NoError(t, err)
	return NewDetector(gen, store, opts)
}

func TestIsDuplicateByLink(t *testing.T) {
	store := newFakeStore()
	store.linkIndex["https://example.com/story"] = "existing-id"
	det := newTestDetector(t, &fakeEmbedder{vector: []float32{1, 0}}, store, Options{CheckLinks: true})

	res, err := det.IsDuplicate(context.Background(), "new-id",
		"Some headline", "Some body", "https://example.com/story", "en")

	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	require.NotNil(t, res.Match)
	assert.Equal(t, "existing-id", res.Match.ID)
	assert.Equal(t, "link", res.Match.Reason)
}

func TestIsDuplicateSameLinkSameID(t *testing.T) {
	// Re-checking the item that owns the link is not a duplicate of itself.
	store := newFakeStore()
	store.linkIndex["https://example.com/story"] = "same-id"
	det := newTestDetector(t, &fakeEmbedder{vector: []float32{1, 0}}, store, Options{CheckLinks: true})

	res, err := det.IsDuplicate(context.Background(), "same-id",
		"Some headline", "Some body", "https://example.com/story", "en")

	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestIsDuplicateByEmbedding(t *testing.T) {
	store := newFakeStore()
	store.neighbors = []Neighbor{
		{ID: "stored", Title: "Stored headline", Embedding: []float32{1, 0, 0}},
	}
	det := newTestDetector(t, &fakeEmbedder{vector: []float32{1, 0, 0}}, store, Options{})

	res, err := det.IsDuplicate(context.Background(), "candidate",
		"Same story reworded", "Same facts in different phrasing", "", "en")

	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	require.NotNil(t, res.Match)
	assert.Equal(t, "stored", res.Match.ID)
	assert.Equal(t, "embedding", res.Match.Reason)
	assert.InDelta(t, 1.0, res.Match.Similarity, 0.001)
	assert.Equal(t, []float32{1, 0, 0}, res.Embedding)
}

func TestIsDuplicateUniquePersistsEmbedding(t *testing.T) {
	store := newFakeStore()
	store.neighbors = []Neighbor{
		{ID: "unrelated", Title: "Different topic", Embedding: []float32{0, 1, 0}},
	}
	det := newTestDetector(t, &fakeEmbedder{vector: []float32{1, 0, 0}}, store, Options{})

	res, err := det.IsDuplicate(context.Background(), "candidate",
		"Fresh story", "About something else entirely", "", "en")

	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, []float32{1, 0, 0}, res.Embedding)
	assert.Equal(t, []string{"candidate"}, store.updatedIDs)
}

func TestIsDuplicateThresholdCountsRunes(t *testing.T) {
	// Roughly 500 Cyrillic runes are over 1000 bytes. The similarity bar must
	// follow the rune count (mid-length, 0.95), not the byte count, which
	// would apply the long-text adjustment (0.97) at half the intended size.
	store := newFakeStore()
	store.neighbors = []Neighbor{
		{ID: "stored", Title: "Та сама новина", Embedding: []float32{0.96, 0.28}},
	}
	det := newTestDetector(t, &fakeEmbedder{vector: []float32{1, 0}}, store, Options{})

	res, err := det.IsDuplicate(context.Background(), "candidate",
		"Новини дня", strings.Repeat("ни", 300), "", "uk")

	require.NoError(t, err)
	assert.True(t, res.Duplicate, "0.96 similarity clears the mid-length content bar")
}

func TestIsDuplicateReusesStoredEmbedding(t *testing.T) {
	store := newFakeStore()
	store.embeddings["candidate"] = []float32{0, 0, 1}
	emb := &fakeEmbedder{vector: []float32{1, 0, 0}}
	det := newTestDetector(t, emb, store, Options{})

	res, err := det.IsDuplicate(context.Background(), "candidate",
		"Already checked once", "Idempotent re-check", "", "en")

	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 0, emb.calls, "stored embedding should make the model call unnecessary")
	assert.Equal(t, []float32{0, 0, 1}, res.Embedding)
}

func TestIsDuplicatePropagatesStoreError(t *testing.T) {
	store := newFakeStore()
	store.knnErr = fmt.Errorf("connection refused")
	det := newTestDetector(t, &fakeEmbedder{vector: []float32{1, 0}}, store, Options{})

	_, err := det.IsDuplicate(context.Background(), "candidate",
		"Any headline", "Any body", "", "en")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBackfillRunOnce(t *testing.T) {
	store := newFakeStore()
	store.pending = []PendingItem{
		{ID: "a", Title: "First pending", Content: "Body one", Lang: "en"},
		{ID: "b", Title: "Second pending", Content: "Body two", Lang: "en"},
	}
	gen, err := embedding.NewGenerator(&fakeEmbedder{vector: []float32{1, 0}}, embedding.Options{})
	require.NoError(t, err)

	bf := NewBackfiller(gen, store, BackfillOptions{BatchSize: 10, ItemDelay: 1})

	done, err := bf.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	assert.ElementsMatch(t, []string{"a", "b"}, store.updatedIDs)
}

func TestBackfillStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	store.pending = []PendingItem{{ID: "a", Title: "T", Content: "C", Lang: "en"}}
	gen, err := embedding.NewGenerator(&fakeEmbedder{vector: []float32{1}}, embedding.Options{})
	require.NoError(t, err)

	bf := NewBackfiller(gen, store, BackfillOptions{BatchSize: 10, ItemDelay: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bf.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
