// Package storage persists items, translations and feed configuration in
// PostgreSQL. Embeddings live in a pgvector column so duplicate detection can
// run nearest-neighbor queries in the database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/deusflow/newsflow/internal/dedup"
	"github.com/deusflow/newsflow/internal/logger"
)

// Item is one persisted news article.
type Item struct {
	ID           string
	FeedID       string
	Lang         string
	Title        string
	Content      string
	Category     string
	Source       string
	Link         string
	ImageURL     string
	Embedding    []float32 // nil until computed
	Published    time.Time
	TelegramSent bool
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Translation is one stored target-language rendering.
type Translation struct {
	ItemID  string
	Lang    string
	Title   string
	Content string
}

type PoolConfig struct {
	MaxConns int
	MinConns int
}

type Store struct {
	pool *pgxpool.Pool
}

// New connects the pool, registers the pgvector types and initializes the
// schema.
func New(ctx context.Context, dsn string, opts PoolConfig) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	if opts.MaxConns > 0 {
		config.MaxConns = int32(opts.MaxConns)
	} else {
		config.MaxConns = 10
	}
	if opts.MinConns > 0 {
		config.MinConns = int32(opts.MinConns)
	} else {
		config.MinConns = 2
	}
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Info("postgres storage connected")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS feeds (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		language VARCHAR(8) NOT NULL,
		category VARCHAR(50) NOT NULL DEFAULT '',
		source VARCHAR(100) NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		cooldown_minutes INTEGER NOT NULL DEFAULT 0,
		max_per_hour INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		feed_id TEXT NOT NULL DEFAULT '',
		lang VARCHAR(8) NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		category VARCHAR(50) NOT NULL DEFAULT '',
		source VARCHAR(100) NOT NULL DEFAULT '',
		link TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		embedding vector(384),
		published_at TIMESTAMPTZ NOT NULL,
		telegram_sent BOOLEAN NOT NULL DEFAULT FALSE,
		telegram_sent_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_items_link ON items(link);
	CREATE INDEX IF NOT EXISTS idx_items_feed_sent ON items(feed_id, telegram_sent_at);
	CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);

	CREATE TABLE IF NOT EXISTS translations (
		item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		lang VARCHAR(8) NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (item_id, lang)
	);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// UpsertItem inserts or refreshes an item. The id is content-derived, so
// re-fetching the same article lands on the same row. A stored embedding is
// never overwritten with null.
func (s *Store) UpsertItem(ctx context.Context, item Item) error {
	var emb *pgvector.Vector
	if len(item.Embedding) > 0 {
		v := pgvector.NewVector(item.Embedding)
		emb = &v
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO items (id, feed_id, lang, title, content, category, source, link, image_url, embedding, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			embedding = COALESCE(items.embedding, EXCLUDED.embedding),
			updated_at = NOW()
	`, item.ID, item.FeedID, item.Lang, item.Title, item.Content, item.Category,
		item.Source, item.Link, item.ImageURL, emb, item.Published)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// GetEmbedding returns the stored embedding for an item, if present.
func (s *Store) GetEmbedding(ctx context.Context, id string) ([]float32, bool, error) {
	var emb *pgvector.Vector
	err := s.pool.QueryRow(ctx, `SELECT embedding FROM items WHERE id = $1`, id).Scan(&emb)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get embedding: %w", err)
	}
	if emb == nil {
		return nil, false, nil
	}
	return emb.Slice(), true, nil
}

// ExistsByLink returns the id of an item with the given canonical link.
func (s *Store) ExistsByLink(ctx context.Context, link string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM items WHERE link = $1 LIMIT 1`, link).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("exists by link: %w", err)
	}
	return id, true, nil
}

// KNearestEmbeddings returns the k stored items closest to vec by cosine
// distance, excluding excludeID and items without embeddings.
func (s *Store) KNearestEmbeddings(ctx context.Context, vec []float32, k int, excludeID string) ([]dedup.Neighbor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, embedding
		FROM items
		WHERE embedding IS NOT NULL AND id <> $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, excludeID, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("knn query: %w", err)
	}
	defer rows.Close()

	var neighbors []dedup.Neighbor
	for rows.Next() {
		var (
			n   dedup.Neighbor
			emb pgvector.Vector
		)
		if err := rows.Scan(&n.ID, &n.Title, &emb); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		n.Embedding = emb.Slice()
		neighbors = append(neighbors, n)
	}
	return neighbors, rows.Err()
}

// UpdateEmbedding persists an item's embedding.
func (s *Store) UpdateEmbedding(ctx context.Context, id string, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE items SET embedding = $2, updated_at = NOW() WHERE id = $1
	`, id, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return nil
}

// ItemsMissingEmbedding lists items whose embedding is still null, oldest
// first, for the backfill sweep.
func (s *Store) ItemsMissingEmbedding(ctx context.Context, limit int) ([]dedup.PendingItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, content, lang
		FROM items
		WHERE embedding IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending embeddings query: %w", err)
	}
	defer rows.Close()

	var pending []dedup.PendingItem
	for rows.Next() {
		var p dedup.PendingItem
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.Lang); err != nil {
			return nil, fmt.Errorf("scan pending item: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		item Item
		emb  *pgvector.Vector
	)
	err := row.Scan(&item.ID, &item.FeedID, &item.Lang, &item.Title, &item.Content,
		&item.Category, &item.Source, &item.Link, &item.ImageURL, &emb,
		&item.Published, &item.TelegramSent, &item.SentAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Item{}, err
	}
	if emb != nil {
		item.Embedding = emb.Slice()
	}
	return item, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
