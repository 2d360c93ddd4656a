package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wavecrate/internal/upload"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS finalized_objects (
    key           TEXT PRIMARY KEY,
    owner_id      TEXT NOT NULL,
    kind          TEXT NOT NULL,
    size_bytes    BIGINT NOT NULL,
    content_type  TEXT NOT NULL,
    checksum      TEXT NOT NULL,
    entity_id     TEXT NOT NULL DEFAULT '',
    file_name     TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    processed_key TEXT NOT NULL DEFAULT '',
    thumbnail_key TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS finalized_objects_owner_idx ON finalized_objects (owner_id, created_at DESC);
`

// PostgresConfig tunes the pgx pool behind the Postgres catalog.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// PostgresCatalog is the pgx-backed ledger implementation.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog opens the pool and bootstraps the schema.
func NewPostgresCatalog(ctx context.Context, cfg PostgresConfig) (*PostgresCatalog, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap catalog schema: %w", err)
	}
	return &PostgresCatalog{pool: pool}, nil
}

// RecordFinalized upserts the ledger row for a finalized object. Re-recording
// the same key overwrites, keeping completion retries idempotent.
func (c *PostgresCatalog) RecordFinalized(ctx context.Context, obj upload.FinalizedObject) error {
	entry := entryFromObject(obj)
	_, err := c.pool.Exec(ctx, `
INSERT INTO finalized_objects (key, owner_id, kind, size_bytes, content_type, checksum, entity_id, file_name, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (key) DO UPDATE SET
    size_bytes = EXCLUDED.size_bytes,
    content_type = EXCLUDED.content_type,
    checksum = EXCLUDED.checksum,
    created_at = EXCLUDED.created_at`,
		entry.Key, entry.OwnerID, entry.Kind, entry.Size, entry.ContentType,
		entry.Checksum, entry.EntityID, entry.FileName, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("record finalized object %s: %w", entry.Key, err)
	}
	return nil
}

// RecordProcessed attaches media pipeline output keys to an existing row.
func (c *PostgresCatalog) RecordProcessed(ctx context.Context, key, processedKey, thumbnailKey string) error {
	tag, err := c.pool.Exec(ctx, `
UPDATE finalized_objects SET processed_key = $2, thumbnail_key = $3 WHERE key = $1`,
		key, processedKey, thumbnailKey)
	if err != nil {
		return fmt.Errorf("record processed output for %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record processed output for %s: no such entry", key)
	}
	return nil
}

// ByOwner lists an owner's finalized objects, newest first.
func (c *PostgresCatalog) ByOwner(ctx context.Context, ownerID string) ([]Entry, error) {
	rows, err := c.pool.Query(ctx, `
SELECT key, owner_id, kind, size_bytes, content_type, checksum, entity_id, file_name, created_at, processed_key, thumbnail_key
FROM finalized_objects WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list objects for owner %s: %w", ownerID, err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Key, &entry.OwnerID, &entry.Kind, &entry.Size, &entry.ContentType,
			&entry.Checksum, &entry.EntityID, &entry.FileName, &entry.CreatedAt,
			&entry.ProcessedKey, &entry.ThumbnailKey); err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ByKey fetches a single ledger row.
func (c *PostgresCatalog) ByKey(ctx context.Context, key string) (Entry, bool, error) {
	var entry Entry
	err := c.pool.QueryRow(ctx, `
SELECT key, owner_id, kind, size_bytes, content_type, checksum, entity_id, file_name, created_at, processed_key, thumbnail_key
FROM finalized_objects WHERE key = $1`, key).Scan(
		&entry.Key, &entry.OwnerID, &entry.Kind, &entry.Size, &entry.ContentType,
		&entry.Checksum, &entry.EntityID, &entry.FileName, &entry.CreatedAt,
		&entry.ProcessedKey, &entry.ThumbnailKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("fetch catalog entry %s: %w", key, err)
	}
	return entry, true, nil
}

// Close drains the pool, honoring the context deadline.
func (c *PostgresCatalog) Close(ctx context.Context) error {
	if c == nil || c.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		c.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
