package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

// TileRepo implements ports.TileStore on the trail_tiles table. It backs the
// server tile endpoint shared by every client.
type TileRepo struct {
	db *DB
}

// NewTileRepo creates a new TileRepo.
func NewTileRepo(db *DB) *TileRepo {
	return &TileRepo{db: db}
}

// Get returns a tile by key.
func (r *TileRepo) Get(ctx context.Context, key domain.TileKey) (*domain.TileEntry, error) {
	var (
		fetchedAt          time.Time
		trails, trailheads []byte
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT fetched_at, trails, trailheads
		FROM trail_tiles WHERE tile_key = $1
	`, key.String()).Scan(&fetchedAt, &trails, &trailheads)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tile %s: %w", key, err)
	}

	data := domain.NewTileData()
	if data.Trails, err = decodeCollection(trails); err != nil {
		return nil, fmt.Errorf("decode trails %s: %w", key, err)
	}
	if data.Trailheads, err = decodeCollection(trailheads); err != nil {
		return nil, fmt.Errorf("decode trailheads %s: %w", key, err)
	}
	return domain.NewTileEntry(key, data, fetchedAt), nil
}

// Put upserts a tile.
func (r *TileRepo) Put(ctx context.Context, entry *domain.TileEntry) error {
	entry.Data.Normalize()
	trails, err := json.Marshal(entry.Data.Trails)
	if err != nil {
		return err
	}
	trailheads, err := json.Marshal(entry.Data.Trailheads)
	if err != nil {
		return err
	}

	key, err := domain.ParseTileKey(entry.TileKey)
	if err != nil {
		return err
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO trail_tiles (tile_key, zoom, x, y, fetched_at, trails, trailheads)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tile_key) DO UPDATE
		SET fetched_at = EXCLUDED.fetched_at,
		    trails = EXCLUDED.trails,
		    trailheads = EXCLUDED.trailheads
	`, entry.TileKey, key.Zoom, key.X, key.Y, entry.FetchedAt(), trails, trailheads)
	if err != nil {
		return fmt.Errorf("put tile %s: %w", entry.TileKey, err)
	}
	return nil
}

// EvictOlderThan deletes tiles fetched before cutoff.
func (r *TileRepo) EvictOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		DELETE FROM trail_tiles WHERE fetched_at < $1 RETURNING tile_key
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("evict tiles: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Count returns the number of stored tiles and the oldest fetch time.
func (r *TileRepo) Count(ctx context.Context) (int, *time.Time, error) {
	var (
		n      int
		oldest *time.Time
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(fetched_at) FROM trail_tiles
	`).Scan(&n, &oldest)
	if err != nil {
		return 0, nil, err
	}
	return n, oldest, nil
}

func decodeCollection(b []byte) (*geojson.FeatureCollection, error) {
	if len(b) == 0 || string(b) == "null" {
		return geojson.NewFeatureCollection(), nil
	}
	return geojson.UnmarshalFeatureCollection(b)
}
