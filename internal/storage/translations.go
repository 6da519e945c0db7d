package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/deusflow/newsflow/internal/feed"
)

// UpsertTranslation stores one target-language rendering of an item.
// Invariant enforcement (origin-language skip, no-op skip) sits with the
// caller, which knows the source text.
func (s *Store) UpsertTranslation(ctx context.Context, t Translation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO translations (item_id, lang, title, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_id, lang) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			updated_at = NOW()
	`, t.ItemID, t.Lang, t.Title, t.Content)
	if err != nil {
		return fmt.Errorf("upsert translation: %w", err)
	}
	return nil
}

// GetTranslations returns every stored translation of an item keyed by
// language.
func (s *Store) GetTranslations(ctx context.Context, itemID string) (map[string]Translation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_id, lang, title, content FROM translations WHERE item_id = $1
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("translations query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Translation)
	for rows.Next() {
		var t Translation
		if err := rows.Scan(&t.ItemID, &t.Lang, &t.Title, &t.Content); err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		out[t.Lang] = t
	}
	return out, rows.Err()
}

// ActiveFeeds lists feeds the pipeline should fetch. The feeds table is
// owned by the management API; the pipeline only reads it.
func (s *Store) ActiveFeeds(ctx context.Context) ([]feed.Feed, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, language, category, source, active, cooldown_minutes, max_per_hour
		FROM feeds WHERE active
	`)
	if err != nil {
		return nil, fmt.Errorf("feeds query: %w", err)
	}
	defer rows.Close()

	var feeds []feed.Feed
	for rows.Next() {
		var f feed.Feed
		if err := rows.Scan(&f.ID, &f.URL, &f.Language, &f.Category, &f.Source,
			&f.Active, &f.CooldownMinutes, &f.MaxPerHour); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// LastPublishedAt returns the feed's most recent Telegram publish time.
func (s *Store) LastPublishedAt(ctx context.Context, feedID string) (time.Time, bool, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(telegram_sent_at) FROM items WHERE feed_id = $1
	`, feedID).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last published query: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

// PublishedCountSince counts the feed's publishes in the trailing window.
func (s *Store) PublishedCountSince(ctx context.Context, feedID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM items
		WHERE feed_id = $1 AND telegram_sent_at IS NOT NULL AND telegram_sent_at > $2
	`, feedID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("published count query: %w", err)
	}
	return count, nil
}

// MarkTelegramSent flags an item as published.
func (s *Store) MarkTelegramSent(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE items SET telegram_sent = TRUE, telegram_sent_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, itemID)
	if err != nil {
		return fmt.Errorf("mark telegram sent: %w", err)
	}
	return nil
}

// UnsentItems lists stored items not yet published, newest first. Used to
// retry sends that a previous cycle throttled.
func (s *Store) UnsentItems(ctx context.Context, limit int) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, feed_id, lang, title, content, category, source, link, image_url,
		       embedding, published_at, telegram_sent, telegram_sent_at, created_at, updated_at
		FROM items
		WHERE NOT telegram_sent
		ORDER BY published_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("unsent items query: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unsent item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteOldItems removes items past the retention window; translations go
// with them via the cascade.
func (s *Store) DeleteOldItems(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM items WHERE created_at < NOW() - make_interval(secs => $1)
	`, maxAge.Seconds())
	if err != nil {
		return 0, fmt.Errorf("delete old items: %w", err)
	}
	return tag.RowsAffected(), nil
}
