package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/ports"
	"github.com/samirrijal/trailsketch/internal/pkg/geospatial"
	"github.com/samirrijal/trailsketch/internal/pkg/metrics"
	"github.com/samirrijal/trailsketch/internal/pkg/telemetry"
)

// Tile cache defaults.
const (
	DefaultTileZoom        = 12
	DefaultMinViewportZoom = 10
	DefaultTileExpiry      = 24 * time.Hour
	DefaultEvictionHorizon = 7 * 24 * time.Hour
	DefaultMaxConcurrent   = 4
	// DefaultMaxTilesPerCall fits a large screen at the minimum viewport
	// zoom with room to spare.
	DefaultMaxTilesPerCall = 1024
)

// ErrInvalidBounds is returned for inverted or out-of-range viewports.
var ErrInvalidBounds = errors.New("invalid bounds")

// ErrTooManyTiles is returned when a viewport covers more tiles than one call
// may load. It wraps ErrInvalidBounds.
var ErrTooManyTiles = fmt.Errorf("%w: viewport covers too many tiles", ErrInvalidBounds)

// TrailOption configures a TrailService.
type TrailOption func(*TrailService)

// WithTileStore sets the persisted tier. Without one the service runs on
// memory and network only.
func WithTileStore(store ports.TileStore) TrailOption {
	return func(s *TrailService) { s.store = store }
}

// WithEventPublisher broadcasts tile loads.
func WithEventPublisher(events ports.EventPublisher) TrailOption {
	return func(s *TrailService) { s.events = events }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TrailOption {
	return func(s *TrailService) { s.now = now }
}

func WithTileZoom(zoom int) TrailOption {
	return func(s *TrailService) { s.tileZoom = zoom }
}

func WithMinViewportZoom(zoom int) TrailOption {
	return func(s *TrailService) { s.minZoom = zoom }
}

func WithExpiry(d time.Duration) TrailOption {
	return func(s *TrailService) { s.expiry = d }
}

func WithEvictionHorizon(d time.Duration) TrailOption {
	return func(s *TrailService) { s.horizon = d }
}

func WithMaxConcurrent(n int) TrailOption {
	return func(s *TrailService) { s.maxConcurrent = n }
}

// WithMaxTilesPerCall caps the tile covering of a single FetchTiles call.
func WithMaxTilesPerCall(n int) TrailOption {
	return func(s *TrailService) { s.maxTiles = n }
}

func WithLogger(l *slog.Logger) TrailOption {
	return func(s *TrailService) { s.logger = l }
}

// TrailService fetches trail and trailhead features per tile through three
// tiers: an in-memory map, a persisted TileStore, and a remote TileFetcher.
type TrailService struct {
	fetcher ports.TileFetcher
	store   ports.TileStore
	events  ports.EventPublisher
	logger  *slog.Logger
	now     func() time.Time

	tileZoom      int
	minZoom       int
	expiry        time.Duration
	horizon       time.Duration
	maxConcurrent int
	maxTiles      int

	mu     sync.Mutex
	memory map[string]*domain.TileEntry
	loaded map[string]time.Time

	trails     *FeatureStore
	trailheads *FeatureStore
}

// NewTrailService creates a TrailService backed by fetcher.
func NewTrailService(fetcher ports.TileFetcher, opts ...TrailOption) *TrailService {
	s := &TrailService{
		fetcher:       fetcher,
		logger:        slog.Default(),
		now:           time.Now,
		tileZoom:      DefaultTileZoom,
		minZoom:       DefaultMinViewportZoom,
		expiry:        DefaultTileExpiry,
		horizon:       DefaultEvictionHorizon,
		maxConcurrent: DefaultMaxConcurrent,
		maxTiles:      DefaultMaxTilesPerCall,
		memory:        make(map[string]*domain.TileEntry),
		loaded:        make(map[string]time.Time),
		trails:        NewFeatureStore(),
		trailheads:    NewFeatureStore(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxConcurrent <= 0 {
		s.maxConcurrent = DefaultMaxConcurrent
	}
	if s.maxTiles <= 0 {
		s.maxTiles = DefaultMaxTilesPerCall
	}
	return s
}

// CheckViewport reports whether FetchTiles would accept bounds at zoom. At or
// above the minimum viewport zoom the covering at the tile zoom must fit the
// per-call cap, whatever zoom the caller claims.
func (s *TrailService) CheckViewport(bounds domain.Bounds, zoom int) error {
	if !bounds.Valid() {
		return ErrInvalidBounds
	}
	if zoom < s.minZoom {
		return nil
	}
	if n := geospatial.TileCount(bounds, s.tileZoom); n > s.maxTiles {
		return fmt.Errorf("%w (%d > %d)", ErrTooManyTiles, n, s.maxTiles)
	}
	return nil
}

// FetchTiles returns the cached trails and trailheads intersecting bounds,
// loading any missing tiles first. Individual tile failures are logged and
// skipped; they never fail the call.
func (s *TrailService) FetchTiles(ctx context.Context, bounds domain.Bounds, zoom int) (*domain.TrailResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanFetchTiles)
	defer span.End()
	span.SetAttributes(attribute.Int(telemetry.AttrViewZoom, zoom))

	if err := s.CheckViewport(bounds, zoom); err != nil {
		return nil, err
	}
	if zoom < s.minZoom {
		return emptyResult(), nil
	}

	keys := geospatial.TilesCovering(bounds, s.tileZoom)
	span.SetAttributes(attribute.Int(telemetry.AttrTileCount, len(keys)))

	var missing []domain.TileKey
	for _, key := range s.required(keys) {
		if s.fromCache(ctx, key) {
			continue
		}
		missing = append(missing, key)
	}

	if len(missing) > 0 {
		metrics.TileCacheMisses.Add(float64(len(missing)))

		var g errgroup.Group
		g.SetLimit(s.maxConcurrent)
		for _, key := range missing {
			key := key
			g.Go(func() error {
				s.fetchTile(ctx, key)
				return nil
			})
		}
		_ = g.Wait()
	}

	return &domain.TrailResult{
		Trails:     s.trails.Within(bounds),
		Trailheads: s.trailheads.Within(bounds),
	}, nil
}

// required filters out tiles loaded within the expiry window.
func (s *TrailService) required(keys []domain.TileKey) []domain.TileKey {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TileKey
	for _, k := range keys {
		if at, ok := s.loaded[k.String()]; ok && now.Sub(at) < s.expiry {
			continue
		}
		out = append(out, k)
	}
	return out
}

// fromCache tries tier 1 then tier 2, merging a fresh hit.
func (s *TrailService) fromCache(ctx context.Context, key domain.TileKey) bool {
	now := s.now()
	k := key.String()

	s.mu.Lock()
	entry, ok := s.memory[k]
	s.mu.Unlock()
	if ok && entry.Fresh(now, s.expiry) {
		metrics.TileCacheHits.WithLabelValues("memory").Inc()
		s.merge(k, entry)
		return true
	}

	if s.store == nil {
		return false
	}
	entry, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return false
	case err != nil:
		metrics.StoreErrors.WithLabelValues("get").Inc()
		s.logger.Warn("tile store read failed", "tile", k, "error", err)
		return false
	case !entry.Fresh(now, s.expiry):
		return false
	}

	metrics.TileCacheHits.WithLabelValues("store").Inc()
	s.merge(k, entry)
	return true
}

// fetchTile loads one tile from the network and persists it. Failures are
// contained to this tile.
func (s *TrailService) fetchTile(ctx context.Context, key domain.TileKey) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanFetchTile)
	defer span.End()
	k := key.String()
	span.SetAttributes(attribute.String(telemetry.AttrTileKey, k))

	start := time.Now()
	data, err := s.fetcher.FetchTile(ctx, key)
	metrics.TileFetchDuration.WithLabelValues("network").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TileFetches.WithLabelValues("network", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("tile fetch failed", "tile", k, "error", err)
		return
	}
	metrics.TileFetches.WithLabelValues("network", "ok").Inc()
	if data == nil {
		data = domain.NewTileData()
	}

	entry := domain.NewTileEntry(key, data, s.now())
	s.merge(k, entry)

	if s.store != nil {
		if err := s.store.Put(ctx, entry); err != nil {
			metrics.StoreErrors.WithLabelValues("put").Inc()
			s.logger.Warn("tile store write failed", "tile", k, "error", err)
		}
	}

	if s.events != nil {
		event := &domain.TileEvent{
			TileKey:    k,
			Trails:     len(entry.Data.Trails.Features),
			Trailheads: len(entry.Data.Trailheads.Features),
			FetchedAt:  entry.FetchedAt(),
		}
		if err := s.events.PublishTileLoaded(ctx, event); err != nil {
			s.logger.Warn("publish tile loaded failed", "tile", k, "error", err)
		}
	}
}

// merge adds an entry's features and marks the tile loaded as of its fetch time.
func (s *TrailService) merge(k string, entry *domain.TileEntry) {
	s.trails.Add(entry.Data.Trails.Features...)
	s.trailheads.Add(entry.Data.Trailheads.Features...)

	s.mu.Lock()
	s.memory[k] = entry
	s.loaded[k] = entry.FetchedAt()
	s.mu.Unlock()
}

// Evict removes persisted entries older than the eviction horizon and drops
// expired entries from memory. It returns the persisted keys removed.
func (s *TrailService) Evict(ctx context.Context) ([]string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanEvict)
	defer span.End()

	now := s.now()

	s.mu.Lock()
	pruned := 0
	for k, e := range s.memory {
		if !e.Fresh(now, s.expiry) {
			delete(s.memory, k)
			pruned++
		}
	}
	s.mu.Unlock()
	metrics.TilesEvicted.WithLabelValues("memory").Add(float64(pruned))

	if s.store == nil {
		return nil, nil
	}
	keys, err := s.store.EvictOlderThan(ctx, now.Add(-s.horizon))
	if err != nil {
		metrics.StoreErrors.WithLabelValues("evict").Inc()
		return nil, fmt.Errorf("evict tiles: %w", err)
	}
	metrics.TilesEvicted.WithLabelValues("store").Add(float64(len(keys)))
	return keys, nil
}

// RunEviction calls Evict every interval until ctx is cancelled.
func (s *TrailService) RunEviction(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			keys, err := s.Evict(ctx)
			if err != nil {
				s.logger.Warn("tile eviction failed", "error", err)
				continue
			}
			if len(keys) > 0 {
				s.logger.Info("evicted tiles", "count", len(keys))
			}
		}
	}
}

// Forget drops keys from memory and the load-state map, so the next request
// covering them goes back to the persisted tier. Features already merged stay.
func (s *TrailService) Forget(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.memory, k)
		delete(s.loaded, k)
	}
}

// Reset clears all in-memory state.
func (s *TrailService) Reset() {
	s.mu.Lock()
	s.memory = make(map[string]*domain.TileEntry)
	s.loaded = make(map[string]time.Time)
	s.mu.Unlock()

	s.trails.Reset()
	s.trailheads.Reset()
}

// Cached returns what is already held for bounds without loading anything.
func (s *TrailService) Cached(bounds domain.Bounds) *domain.TrailResult {
	return &domain.TrailResult{
		Trails:     s.trails.Within(bounds),
		Trailheads: s.trailheads.Within(bounds),
	}
}

// TileZoom returns the fixed zoom tiles are fetched at.
func (s *TrailService) TileZoom() int { return s.tileZoom }

func emptyResult() *domain.TrailResult {
	d := domain.NewTileData()
	return &domain.TrailResult{Trails: d.Trails, Trailheads: d.Trailheads}
}
