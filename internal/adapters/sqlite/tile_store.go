// Package sqlite is a local, single-file persisted tile tier.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS tile_cache (
	tile_key  TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	data      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tile_cache_timestamp ON tile_cache(timestamp);
`

// TileStore implements ports.TileStore on SQLite. Records mirror the
// persisted schema {tileKey, timestamp (epoch ms), data}.
type TileStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(ctx context.Context, path string) (*TileStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; an in-memory database also only exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &TileStore{db: db}, nil
}

func (s *TileStore) Get(ctx context.Context, key domain.TileKey) (*domain.TileEntry, error) {
	var (
		ts  int64
		raw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp, data FROM tile_cache WHERE tile_key = ?`, key.String(),
	).Scan(&ts, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tile %s: %w", key, err)
	}

	entry := &domain.TileEntry{TileKey: key.String(), Timestamp: ts}
	if err := json.Unmarshal([]byte(raw), &entry.Data); err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", key, err)
	}
	entry.Data.Normalize()
	return entry, nil
}

func (s *TileStore) Put(ctx context.Context, entry *domain.TileEntry) error {
	raw, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("encode tile %s: %w", entry.TileKey, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tile_cache (tile_key, timestamp, data) VALUES (?, ?, ?)`,
		entry.TileKey, entry.Timestamp, string(raw),
	)
	if err != nil {
		return fmt.Errorf("put tile %s: %w", entry.TileKey, err)
	}
	return nil
}

func (s *TileStore) EvictOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM tile_cache WHERE timestamp < ? RETURNING tile_key`, cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("evict tiles: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ping checks the database is usable.
func (s *TileStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database.
func (s *TileStore) Close() error {
	return s.db.Close()
}
