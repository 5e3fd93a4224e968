package ports

import (
	"context"
	"time"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

// TileStore persists parsed tile entries keyed by "zoom/x/y".
// Get returns domain.ErrNotFound when the key is absent.
type TileStore interface {
	Get(ctx context.Context, key domain.TileKey) (*domain.TileEntry, error)
	Put(ctx context.Context, entry *domain.TileEntry) error
	// EvictOlderThan deletes entries fetched before cutoff and returns their keys.
	EvictOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}
