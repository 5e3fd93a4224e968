package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/samirrijal/trailsketch/internal/core/ports"
	"github.com/samirrijal/trailsketch/internal/pkg/metrics"
)

// EvictionActivities holds the activity implementations for the tile
// eviction workflow.
type EvictionActivities struct {
	Store  ports.TileStore
	Events ports.EventPublisher // optional
}

// EvictTilesOlderThan deletes persisted tiles fetched before cutoff and
// returns their keys.
func (a *EvictionActivities) EvictTilesOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	keys, err := a.Store.EvictOlderThan(ctx, cutoff)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("evict").Inc()
		return nil, fmt.Errorf("evict tiles before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.TilesEvicted.WithLabelValues("store").Add(float64(len(keys)))
	activity.GetLogger(ctx).Info("evicted tiles", "count", len(keys), "cutoff", cutoff)
	return keys, nil
}

// PublishEvictions tells running API instances to drop the evicted keys
// from memory and the shared cache.
func (a *EvictionActivities) PublishEvictions(ctx context.Context, keys []string) error {
	if a.Events == nil {
		activity.GetLogger(ctx).Info("no event publisher, skipping eviction notice", "count", len(keys))
		return nil
	}
	if err := a.Events.PublishTilesEvicted(ctx, keys); err != nil {
		return fmt.Errorf("publish evictions: %w", err)
	}
	return nil
}
