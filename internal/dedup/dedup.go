// Package dedup decides whether a candidate item is semantically new or a
// repeat of something already stored, using embedding nearest-neighbor search
// plus an exact canonical-link check.
package dedup

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/deusflow/newsflow/internal/embedding"
	"github.com/deusflow/newsflow/internal/logger"
)

// Neighbor is one stored item returned by the k-NN query.
type Neighbor struct {
	ID        string
	Title     string
	Embedding []float32
}

// PendingItem is a stored item still lacking an embedding.
type PendingItem struct {
	ID      string
	Title   string
	Content string
	Lang    string
}

// Store is the slice of item storage the detector needs.
type Store interface {
	// GetEmbedding returns the stored embedding for id, if any.
	GetEmbedding(ctx context.Context, id string) ([]float32, bool, error)
	// ExistsByLink returns the id of an item with the same canonical link.
	ExistsByLink(ctx context.Context, link string) (string, bool, error)
	// KNearestEmbeddings returns up to k stored items closest to vec,
	// excluding excludeID. Items without embeddings are not returned.
	KNearestEmbeddings(ctx context.Context, vec []float32, k int, excludeID string) ([]Neighbor, error)
	// UpdateEmbedding persists vec against an existing item row.
	UpdateEmbedding(ctx context.Context, id string, vec []float32) error
	// ItemsMissingEmbedding lists stored items whose embedding is still null.
	ItemsMissingEmbedding(ctx context.Context, limit int) ([]PendingItem, error)
}

// Match describes the stored item a candidate duplicates.
type Match struct {
	ID         string
	Title      string
	Similarity float64
	Reason     string // "link" or "embedding"
}

// Result of a duplicate check. Embedding carries the candidate's vector so
// the caller can persist it together with the item row.
type Result struct {
	Duplicate bool
	Match     *Match
	Embedding []float32
}

type Options struct {
	Neighbors  int  // k for the nearest-neighbor query, default 5
	CheckLinks bool // treat an exact canonical-link match as a duplicate
}

type Detector struct {
	gen        *embedding.Generator
	store      Store
	neighbors  int
	checkLinks bool
}

const contentPrefixRunes = 500

func NewDetector(gen *embedding.Generator, store Store, opts Options) *Detector {
	if opts.Neighbors <= 0 {
		opts.Neighbors = 5
	}
	return &Detector{
		gen:        gen,
		store:      store,
		neighbors:  opts.Neighbors,
		checkLinks: opts.CheckLinks,
	}
}

// IsDuplicate checks a candidate against stored items. Errors propagate: a
// broken detector must read as "check failed, retry later", never as unique.
func (d *Detector) IsDuplicate(ctx context.Context, candidateID, title, content, link, lang string) (Result, error) {
	if d.checkLinks && link != "" {
		id, found, err := d.store.ExistsByLink(ctx, link)
		if err != nil {
			return Result{}, fmt.Errorf("link lookup: %w", err)
		}
		if found && id != candidateID {
			return Result{
				Duplicate: true,
				Match:     &Match{ID: id, Similarity: 1, Reason: "link"},
			}, nil
		}
	}

	combined := combine(title, content)

	vec, err := d.candidateEmbedding(ctx, candidateID, combined, lang)
	if err != nil {
		return Result{}, err
	}

	neighbors, err := d.store.KNearestEmbeddings(ctx, vec, d.neighbors, candidateID)
	if err != nil {
		return Result{}, fmt.Errorf("nearest neighbors: %w", err)
	}

	// Length is measured in runes, like the truncation in combine, so
	// multi-byte alphabets do not trip the long-text adjustment early.
	threshold := d.gen.Threshold(utf8.RuneCountInString(combined), embedding.KindContent)
	for _, n := range neighbors {
		if len(n.Embedding) == 0 {
			continue
		}
		sim := d.gen.Similarity(vec, n.Embedding)
		// First neighbor over the bar wins; no exhaustive best-match search.
		if sim >= threshold {
			logger.Debug("duplicate detected",
				"candidate", candidateID, "match", n.ID, "similarity", sim, "threshold", threshold)
			return Result{
				Duplicate: true,
				Match:     &Match{ID: n.ID, Title: n.Title, Similarity: sim, Reason: "embedding"},
				Embedding: vec,
			}, nil
		}
	}

	// Unique: persist the embedding so future candidates compare against it.
	if err := d.store.UpdateEmbedding(ctx, candidateID, vec); err != nil {
		return Result{}, fmt.Errorf("persist embedding: %w", err)
	}

	return Result{Embedding: vec}, nil
}

// candidateEmbedding reuses a stored embedding on an idempotent re-check and
// computes a fresh one otherwise.
func (d *Detector) candidateEmbedding(ctx context.Context, candidateID, combined, lang string) ([]float32, error) {
	if existing, ok, err := d.store.GetEmbedding(ctx, candidateID); err != nil {
		return nil, fmt.Errorf("embedding lookup: %w", err)
	} else if ok {
		return existing, nil
	}

	vec, err := d.gen.Embed(ctx, combined, lang)
	if err != nil {
		return nil, fmt.Errorf("candidate embedding: %w", err)
	}
	return vec, nil
}

func combine(title, content string) string {
	runes := []rune(content)
	if len(runes) > contentPrefixRunes {
		content = string(runes[:contentPrefixRunes])
	}
	if title == "" {
		return content
	}
	if content == "" {
		return title
	}
	return title + " " + content
}
