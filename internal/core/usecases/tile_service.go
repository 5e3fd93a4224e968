package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/ports"
	"github.com/samirrijal/trailsketch/internal/pkg/geospatial"
	"github.com/samirrijal/trailsketch/internal/pkg/metrics"
	"github.com/samirrijal/trailsketch/internal/pkg/telemetry"
)

// ErrInvalidTile is returned for tile coordinates outside the zoom grid.
var ErrInvalidTile = errors.New("invalid tile")

// TileService serves the backend tile endpoint: one tile's trails and
// trailheads in wire form. Lookups go response cache, then the tile store,
// then the upstream source. Concurrent misses for the same tile share one
// upstream request.
type TileService struct {
	source ports.TileFetcher
	store  ports.TileStore
	cache  ports.CacheService
	logger *slog.Logger
	now    func() time.Time
	expiry time.Duration

	group singleflight.Group
}

// NewTileService creates a TileService. store and cache may be nil.
func NewTileService(source ports.TileFetcher, store ports.TileStore, cache ports.CacheService) *TileService {
	return &TileService{
		source: source,
		store:  store,
		cache:  cache,
		logger: slog.Default(),
		now:    time.Now,
		expiry: DefaultTileExpiry,
	}
}

// SetExpiry overrides the freshness window.
func (s *TileService) SetExpiry(d time.Duration) {
	if d > 0 {
		s.expiry = d
	}
}

// SetClock overrides time.Now.
func (s *TileService) SetClock(now func() time.Time) { s.now = now }

// GetTile returns the payload for key.
func (s *TileService) GetTile(ctx context.Context, key domain.TileKey) (*domain.TilePayload, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanGetTile)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrTileKey, key.String()))

	if !key.Valid() {
		return nil, ErrInvalidTile
	}

	cacheKey := "tiles:payload:" + key.String()
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var p domain.TilePayload
			if err := json.Unmarshal(data, &p); err == nil {
				metrics.CacheHits.WithLabelValues("tile").Inc()
				span.SetAttributes(attribute.String(telemetry.AttrTileTier, "cache"))
				return &p, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("tile").Inc()
	}

	v, err, _ := s.group.Do(key.String(), func() (any, error) {
		return s.load(ctx, key)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	res := v.(*loadResult)
	span.SetAttributes(attribute.String(telemetry.AttrTileTier, res.tier))

	if s.cache != nil && res.ttl > 0 {
		if data, err := json.Marshal(res.payload); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, int(res.ttl.Seconds()))
		}
	}
	return res.payload, nil
}

type loadResult struct {
	payload *domain.TilePayload
	tier    string
	ttl     time.Duration
}

func (s *TileService) load(ctx context.Context, key domain.TileKey) (*loadResult, error) {
	now := s.now()

	var stale *domain.TileEntry
	if s.store != nil {
		entry, err := s.store.Get(ctx, key)
		switch {
		case err == nil && entry.Fresh(now, s.expiry):
			metrics.TileCacheHits.WithLabelValues("server").Inc()
			p, err := domain.EncodeTilePayload(&entry.Data)
			if err != nil {
				return nil, err
			}
			return &loadResult{payload: p, tier: "store", ttl: s.expiry - now.Sub(entry.FetchedAt())}, nil
		case err == nil:
			stale = entry
		case !errors.Is(err, domain.ErrNotFound):
			metrics.StoreErrors.WithLabelValues("get").Inc()
			s.logger.Warn("tile store read failed", "tile", key.String(), "error", err)
		}
	}

	start := time.Now()
	data, err := s.source.FetchTile(ctx, key)
	metrics.TileFetchDuration.WithLabelValues("upstream").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TileFetches.WithLabelValues("upstream", "error").Inc()
		if stale != nil {
			s.logger.Warn("serving stale tile", "tile", key.String(), "error", err)
			p, encErr := domain.EncodeTilePayload(&stale.Data)
			if encErr != nil {
				return nil, encErr
			}
			return &loadResult{payload: p, tier: "stale"}, nil
		}
		return nil, fmt.Errorf("fetch tile %s: %w", key, err)
	}
	metrics.TileFetches.WithLabelValues("upstream", "ok").Inc()
	if data == nil {
		data = domain.NewTileData()
	}

	entry := domain.NewTileEntry(key, data, now)
	if s.store != nil {
		if err := s.store.Put(ctx, entry); err != nil {
			metrics.StoreErrors.WithLabelValues("put").Inc()
			s.logger.Warn("tile store write failed", "tile", key.String(), "error", err)
		}
	}

	p, err := domain.EncodeTilePayload(&entry.Data)
	if err != nil {
		return nil, err
	}
	return &loadResult{payload: p, tier: "upstream", ttl: s.expiry}, nil
}

// Invalidate drops cached payloads for keys.
func (s *TileService) Invalidate(ctx context.Context, keys []string) {
	if s.cache == nil {
		return
	}
	for _, k := range keys {
		_ = s.cache.Delete(ctx, "tiles:payload:"+k)
	}
}

// WarmStats summarises a Warm run.
type WarmStats struct {
	Tiles  int `json:"tiles"`
	Failed int `json:"failed"`
}

// Warm loads every tile of zoom covering bounds, with at most workers
// requests in flight.
func (s *TileService) Warm(ctx context.Context, bounds domain.Bounds, zoom, workers int) (WarmStats, error) {
	if !bounds.Valid() {
		return WarmStats{}, ErrInvalidBounds
	}
	if workers <= 0 {
		workers = DefaultMaxConcurrent
	}

	keys := geospatial.TilesCovering(bounds, zoom)
	stats := WarmStats{Tiles: len(keys)}
	failed := make(chan struct{}, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if _, err := s.GetTile(gctx, key); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("warm tile failed", "tile", key.String(), "error", err)
				failed <- struct{}{}
			}
			return nil
		})
	}
	err := g.Wait()
	close(failed)
	for range failed {
		stats.Failed++
	}
	return stats, err
}
