// Package publish gates and performs the Telegram send step. The gate is
// advisory: ingestion stores and translates items regardless; only sending is
// throttled.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/deusflow/newsflow/internal/feed"
)

// GateStore answers the per-feed publish history questions the gate needs.
type GateStore interface {
	// LastPublishedAt returns the most recent publish time for the feed.
	LastPublishedAt(ctx context.Context, feedID string) (time.Time, bool, error)
	// PublishedCountSince counts the feed's publishes after the given time.
	PublishedCountSince(ctx context.Context, feedID string, since time.Time) (int, error)
}

// Gate enforces per-feed cooldown and hourly volume limits.
//
// Boundary convention: a feed becomes eligible when the elapsed time since
// the last publish is greater than or equal to the cooldown. At exactly the
// cooldown boundary the feed is eligible.
type Gate struct {
	store GateStore
	now   func() time.Time
}

func NewGate(store GateStore) *Gate {
	return &Gate{store: store, now: time.Now}
}

// Eligible reports whether the feed may publish right now, with a short
// reason when it may not.
func (g *Gate) Eligible(ctx context.Context, fd feed.Feed) (bool, string, error) {
	now := g.now()

	if fd.CooldownMinutes > 0 {
		last, found, err := g.store.LastPublishedAt(ctx, fd.ID)
		if err != nil {
			return false, "", fmt.Errorf("last published lookup: %w", err)
		}
		if found {
			cooldown := time.Duration(fd.CooldownMinutes) * time.Minute
			if elapsed := now.Sub(last); elapsed < cooldown {
				return false, fmt.Sprintf("cooldown: %v of %v elapsed", elapsed.Round(time.Second), cooldown), nil
			}
		}
	}

	if fd.MaxPerHour > 0 {
		count, err := g.store.PublishedCountSince(ctx, fd.ID, now.Add(-time.Hour))
		if err != nil {
			return false, "", fmt.Errorf("recent publish count: %w", err)
		}
		if count >= fd.MaxPerHour {
			return false, fmt.Sprintf("hourly limit: %d of %d used", count, fd.MaxPerHour), nil
		}
	}

	return true, "", nil
}
