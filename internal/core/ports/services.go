package ports

import (
	"context"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

// TileFetcher retrieves trail geometry for a single tile from a remote source.
type TileFetcher interface {
	FetchTile(ctx context.Context, key domain.TileKey) (*domain.TileData, error)
}

// EventPublisher publishes tile lifecycle events to a message broker.
type EventPublisher interface {
	PublishTileLoaded(ctx context.Context, event *domain.TileEvent) error
	PublishTilesEvicted(ctx context.Context, keys []string) error
}

// EventSubscriber subscribes to tile lifecycle events from a message broker.
type EventSubscriber interface {
	SubscribeTilesEvicted(ctx context.Context, handler func(ctx context.Context, keys []string) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// Geocoder resolves a free-text place to a coordinate.
type Geocoder interface {
	Locate(ctx context.Context, query string) (domain.GeoPoint, error)
}
