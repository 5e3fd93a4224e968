package usecases_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/usecases"
)

// --- Mock CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]int
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte), ttls: make(map[string]int)}
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttlSeconds
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Tests ---

func TestTileService_FetchesAndPersists(t *testing.T) {
	fetcher := &mockFetcher{}
	store := newMockTileStore()
	cache := newMockCache()
	svc := usecases.NewTileService(fetcher, store, cache)

	key := domain.TileKey{Zoom: 12, X: 853, Y: 1552}
	p, err := svc.GetTile(context.Background(), key)
	if err != nil {
		t.Fatalf("get tile: %v", err)
	}
	data, err := p.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Trails.Features) != 1 || len(data.Trailheads.Features) != 1 {
		t.Errorf("expected 1 trail and 1 trailhead, got %d/%d", len(data.Trails.Features), len(data.Trailheads.Features))
	}
	if store.len() != 1 {
		t.Errorf("expected tile persisted, store has %d", store.len())
	}
	if ttl := cache.ttls["tiles:payload:12/853/1552"]; ttl != int((24 * time.Hour).Seconds()) {
		t.Errorf("expected 24h cache ttl, got %d", ttl)
	}
}

func TestTileService_CacheHitSkipsUpstream(t *testing.T) {
	fetcher := &mockFetcher{}
	svc := usecases.NewTileService(fetcher, newMockTileStore(), newMockCache())
	key := domain.TileKey{Zoom: 12, X: 1, Y: 1}

	for i := 0; i < 3; i++ {
		if _, err := svc.GetTile(context.Background(), key); err != nil {
			t.Fatalf("get tile: %v", err)
		}
	}
	if n := fetcher.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", n)
	}
}

func TestTileService_FreshStoreEntry(t *testing.T) {
	fetcher := &mockFetcher{}
	store := newMockTileStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key := domain.TileKey{Zoom: 12, X: 2, Y: 2}
	_ = store.Put(context.Background(), domain.NewTileEntry(key, tileData(key), now.Add(-2*time.Hour)))

	svc := usecases.NewTileService(fetcher, store, nil)
	svc.SetClock(func() time.Time { return now })

	if _, err := svc.GetTile(context.Background(), key); err != nil {
		t.Fatalf("get tile: %v", err)
	}
	if n := fetcher.calls.Load(); n != 0 {
		t.Errorf("expected no upstream fetch, got %d", n)
	}
}

func TestTileService_StaleServedWhenUpstreamFails(t *testing.T) {
	fetcher := &mockFetcher{fetchFn: func(ctx context.Context, key domain.TileKey) (*domain.TileData, error) {
		return nil, errors.New("overpass 429")
	}}
	store := newMockTileStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key := domain.TileKey{Zoom: 12, X: 3, Y: 3}
	_ = store.Put(context.Background(), domain.NewTileEntry(key, tileData(key), now.Add(-48*time.Hour)))

	cache := newMockCache()
	svc := usecases.NewTileService(fetcher, store, cache)
	svc.SetClock(func() time.Time { return now })

	p, err := svc.GetTile(context.Background(), key)
	if err != nil {
		t.Fatalf("expected stale tile, got %v", err)
	}
	if p.TrailGeoJSON == "null" {
		t.Error("expected stale trails")
	}
	if _, cached := cache.data["tiles:payload:"+key.String()]; cached {
		t.Error("stale payload should not be cached")
	}
}

func TestTileService_UpstreamErrorWithoutFallback(t *testing.T) {
	fetcher := &mockFetcher{fetchFn: func(ctx context.Context, key domain.TileKey) (*domain.TileData, error) {
		return nil, errors.New("timeout")
	}}
	svc := usecases.NewTileService(fetcher, newMockTileStore(), nil)
	if _, err := svc.GetTile(context.Background(), domain.TileKey{Zoom: 12, X: 4, Y: 4}); err == nil {
		t.Fatal("expected error")
	}
}

func TestTileService_InvalidTile(t *testing.T) {
	svc := usecases.NewTileService(&mockFetcher{}, nil, nil)
	_, err := svc.GetTile(context.Background(), domain.TileKey{Zoom: 2, X: 9, Y: 0})
	if !errors.Is(err, usecases.ErrInvalidTile) {
		t.Errorf("expected ErrInvalidTile, got %v", err)
	}
}

func TestTileService_ConcurrentMissesShareFetch(t *testing.T) {
	release := make(chan struct{})
	fetcher := &mockFetcher{fetchFn: func(ctx context.Context, key domain.TileKey) (*domain.TileData, error) {
		<-release
		return tileData(key), nil
	}}
	svc := usecases.NewTileService(fetcher, nil, nil)
	key := domain.TileKey{Zoom: 12, X: 5, Y: 5}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.GetTile(context.Background(), key)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := fetcher.calls.Load(); n != 1 {
		t.Errorf("expected 1 shared fetch, got %d", n)
	}
}

func TestTileService_Invalidate(t *testing.T) {
	cache := newMockCache()
	svc := usecases.NewTileService(&mockFetcher{}, nil, cache)
	key := domain.TileKey{Zoom: 12, X: 6, Y: 6}
	_, _ = svc.GetTile(context.Background(), key)

	svc.Invalidate(context.Background(), []string{key.String()})
	if _, ok := cache.data["tiles:payload:"+key.String()]; ok {
		t.Error("expected payload removed")
	}
}

func TestTileService_Warm(t *testing.T) {
	fetcher := &mockFetcher{fetchFn: func(ctx context.Context, key domain.TileKey) (*domain.TileData, error) {
		if key.X == 100 && key.Y == 200 {
			return nil, errors.New("boom")
		}
		return tileData(key), nil
	}}
	store := newMockTileStore()
	svc := usecases.NewTileService(fetcher, store, nil)

	stats, err := svc.Warm(context.Background(), viewport(100, 200, 3, 2), 12, 4)
	if err != nil {
		t.Fatalf("warm: %v", err)
	}
	if stats.Tiles != 6 || stats.Failed != 1 {
		t.Errorf("expected 6 tiles with 1 failure, got %+v", stats)
	}
	if store.len() != 5 {
		t.Errorf("expected 5 stored tiles, got %d", store.len())
	}
}
