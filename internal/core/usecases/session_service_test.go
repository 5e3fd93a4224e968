package usecases_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/usecases"
	"github.com/samirrijal/trailsketch/internal/pkg/gpxcodec"
)

// --- Mock Geocoder ---

type mockGeocoder struct {
	locateFn func(ctx context.Context, q string) (domain.GeoPoint, error)
}

func (m *mockGeocoder) Locate(ctx context.Context, q string) (domain.GeoPoint, error) {
	if m.locateFn != nil {
		return m.locateFn(ctx, q)
	}
	return domain.GeoPoint{}, domain.ErrNotFound
}

func newSessions(t *testing.T, fetcher *mockFetcher, geocoder *mockGeocoder) *usecases.SessionService {
	t.Helper()
	settings := usecases.DefaultSessionSettings()
	settings.Debounce = 20 * time.Millisecond
	trails := usecases.NewTrailService(fetcher)
	if geocoder == nil {
		return usecases.NewSessionService(trails, nil, settings)
	}
	return usecases.NewSessionService(trails, geocoder, settings)
}

// --- Tests ---

func TestSessionService_CreateDefaultView(t *testing.T) {
	svc := newSessions(t, &mockFetcher{}, nil)
	info := svc.Create(context.Background(), usecases.CreateSessionRequest{})

	if info.View.Zoom != 12 || info.View.Center.Lon != -98.5795 || info.View.Center.Lat != 39.8283 {
		t.Errorf("expected default view, got %+v", info.View)
	}
	if info.Mode != "pan" || !info.Snapping {
		t.Errorf("expected pan mode with snapping, got %s/%v", info.Mode, info.Snapping)
	}
}

func TestSessionService_CreateWithCenter(t *testing.T) {
	svc := newSessions(t, &mockFetcher{}, nil)
	center := &domain.GeoPoint{Lat: 47.6, Lon: -122.3}
	info := svc.Create(context.Background(), usecases.CreateSessionRequest{Center: center})

	if info.View.Zoom != 13 || info.View.Center != *center {
		t.Errorf("expected located view at zoom 13, got %+v", info.View)
	}
}

func TestSessionService_CreateWithPlace(t *testing.T) {
	geo := &mockGeocoder{locateFn: func(ctx context.Context, q string) (domain.GeoPoint, error) {
		if q != "Boulder, CO" {
			t.Errorf("unexpected query %q", q)
		}
		return domain.GeoPoint{Lat: 40.015, Lon: -105.27}, nil
	}}
	svc := newSessions(t, &mockFetcher{}, geo)

	info := svc.Create(context.Background(), usecases.CreateSessionRequest{Place: "Boulder, CO"})
	if info.View.Zoom != 13 || info.View.Center.Lat != 40.015 {
		t.Errorf("expected geocoded view, got %+v", info.View)
	}
}

func TestSessionService_GeocodeFailureFallsBack(t *testing.T) {
	geo := &mockGeocoder{locateFn: func(ctx context.Context, q string) (domain.GeoPoint, error) {
		return domain.GeoPoint{}, errors.New("503")
	}}
	svc := newSessions(t, &mockFetcher{}, geo)

	view := svc.MapDefaults(context.Background(), usecases.CreateSessionRequest{Place: "Atlantis"})
	if view != usecases.DefaultMapView {
		t.Errorf("expected default view, got %+v", view)
	}
}

func TestSessionService_ListAndClose(t *testing.T) {
	svc := newSessions(t, &mockFetcher{}, nil)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID)
	}

	page, total := svc.List(1, 2)
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(page), total)
	}
	if page, _ := svc.List(10, 2); len(page) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(page))
	}

	if err := svc.Close(ids[0]); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := svc.Close(ids[0]); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found on second close, got %v", err)
	}
	if _, err := svc.Get(ids[0]); !usecases.IsNotFound(err) {
		t.Errorf("expected closed session gone, got %v", err)
	}
	if _, total := svc.List(0, 0); total != 4 {
		t.Errorf("expected 4 sessions left, got %d", total)
	}
}

func TestSessionService_RefreshInstallsSnapTargets(t *testing.T) {
	svc := newSessions(t, &mockFetcher{}, nil)
	id := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID

	bounds := viewport(853, 1552, 1, 1)
	res, err := svc.Refresh(context.Background(), id, bounds, 14)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(res.Trails.Features) != 1 {
		t.Fatalf("expected 1 trail, got %d", len(res.Trails.Features))
	}

	sess, _ := svc.Session(id)
	trail := res.Trails.Features[0].Geometry.(orb.LineString)
	near := orb.Point{trail[0][0], trail[0][1] + 0.00005}
	if got := sess.Snap(near); !got.Equal(trail[0]) {
		t.Errorf("expected snap to %v, got %v", trail[0], got)
	}

	info, _ := svc.Get(id)
	if info.Bounds == nil || info.View.Zoom != 14 {
		t.Errorf("expected viewport recorded, got %+v", info)
	}
}

func TestSessionService_UpdateViewportDebounced(t *testing.T) {
	fetcher := &mockFetcher{}
	svc := newSessions(t, fetcher, nil)
	id := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID

	// Five pans inside the same tile within the window: one fetch.
	for i := 0; i < 5; i++ {
		if err := svc.UpdateViewport(id, viewport(853, 1552, 1, 1), 13); err != nil {
			t.Fatalf("update viewport: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for fetcher.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	if n := fetcher.calls.Load(); n != 1 {
		t.Errorf("expected 1 fetch after debounced pans, got %d", n)
	}
}

func TestSessionService_UpdateViewportValidation(t *testing.T) {
	svc := newSessions(t, &mockFetcher{}, nil)
	id := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID

	bad := domain.Bounds{South: 41, North: 40, West: -100, East: -99}
	if err := svc.UpdateViewport(id, bad, 12); !errors.Is(err, usecases.ErrInvalidBounds) {
		t.Errorf("expected ErrInvalidBounds, got %v", err)
	}
	if err := svc.UpdateViewport("missing", viewport(1, 1, 1, 1), 12); !usecases.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSessionService_UpdateViewportRejectsOversized(t *testing.T) {
	fetcher := &mockFetcher{}
	svc := newSessions(t, fetcher, nil)
	id := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID

	conus := domain.Bounds{South: 25, West: -125, North: 49, East: -66}
	if err := svc.UpdateViewport(id, conus, 22); !errors.Is(err, usecases.ErrTooManyTiles) {
		t.Fatalf("expected ErrTooManyTiles, got %v", err)
	}
	if _, err := svc.Refresh(context.Background(), id, conus, 22); !errors.Is(err, usecases.ErrTooManyTiles) {
		t.Errorf("expected ErrTooManyTiles from refresh, got %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if n := fetcher.calls.Load(); n != 0 {
		t.Errorf("expected no fetches, got %d", n)
	}
}

func TestSessionService_ZeroDebounceUsesDefault(t *testing.T) {
	fetcher := &mockFetcher{}
	settings := usecases.DefaultSessionSettings()
	settings.Debounce = 0
	svc := usecases.NewSessionService(usecases.NewTrailService(fetcher), nil, settings)
	id := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID

	// Pans across different tiles; only the last one should load.
	for i := 0; i < 5; i++ {
		if err := svc.UpdateViewport(id, viewport(850+i*2, 1552, 1, 1), 13); err != nil {
			t.Fatalf("update viewport: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if n := fetcher.calls.Load(); n != 1 {
		t.Errorf("expected pans collapsed into 1 fetch, got %d", n)
	}
}

func TestSessionService_ReapIdle(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	settings := usecases.DefaultSessionSettings()
	settings.IdleTimeout = time.Hour
	svc := usecases.NewSessionService(usecases.NewTrailService(&mockFetcher{}), nil, settings)
	svc.SetClock(func() time.Time { return now })

	stale := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID
	active := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID

	now = now.Add(40 * time.Minute)
	if _, err := svc.Session(active); err != nil {
		t.Fatalf("touch session: %v", err)
	}
	if ids := svc.ReapIdle(); len(ids) != 0 {
		t.Fatalf("expected nothing reaped before the timeout, got %v", ids)
	}

	now = now.Add(30 * time.Minute)
	ids := svc.ReapIdle()
	if len(ids) != 1 || ids[0] != stale {
		t.Fatalf("expected only %s reaped, got %v", stale, ids)
	}
	if _, err := svc.Get(stale); !usecases.IsNotFound(err) {
		t.Errorf("expected reaped session gone, got %v", err)
	}
	if _, err := svc.Get(active); err != nil {
		t.Errorf("expected active session kept, got %v", err)
	}

	now = now.Add(time.Hour)
	if ids := svc.ReapIdle(); len(ids) != 1 || ids[0] != active {
		t.Errorf("expected %s reaped once idle, got %v", active, ids)
	}
	if _, total := svc.List(0, 10); total != 0 {
		t.Errorf("expected no sessions left, got %d", total)
	}
}

func TestSessionService_RunReaperStopsOnCancel(t *testing.T) {
	settings := usecases.DefaultSessionSettings()
	settings.IdleTimeout = time.Millisecond
	svc := usecases.NewSessionService(usecases.NewTrailService(&mockFetcher{}), nil, settings)
	id := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunReaper(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := svc.Get(id); usecases.IsNotFound(err) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := svc.Get(id); !usecases.IsNotFound(err) {
		t.Errorf("expected reaper to close idle session, got %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}

func TestSessionService_ExportEmpty(t *testing.T) {
	svc := newSessions(t, &mockFetcher{}, nil)
	id := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID

	if _, err := svc.ExportGPX(context.Background(), id); !errors.Is(err, gpxcodec.ErrNoFeatures) {
		t.Errorf("expected ErrNoFeatures, got %v", err)
	}
}

func TestSessionService_ExportImportRoundTrip(t *testing.T) {
	svc := newSessions(t, &mockFetcher{}, nil)
	src := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID
	sess, _ := svc.Session(src)
	f := geojson.NewFeature(orb.LineString{{-105.0, 40.0}, {-105.0, 40.001}})
	f.Properties["name"] = "Mesa Trail"
	sess.Add(f)

	data, err := svc.ExportGPX(context.Background(), src)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !bytes.Contains(data, []byte("<gpx")) || !bytes.Contains(data, []byte("Mesa Trail")) {
		t.Fatalf("unexpected GPX:\n%s", data)
	}

	dst := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID
	ids, err := svc.ImportGPX(dst, data)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 imported feature, got %d", len(ids))
	}

	imported, _ := svc.Session(dst)
	if !imported.Undo() || len(imported.Features().Features) != 0 {
		t.Error("expected import undone in one step")
	}
}

func TestSessionService_ImportRejectsGarbage(t *testing.T) {
	svc := newSessions(t, &mockFetcher{}, nil)
	id := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID
	if _, err := svc.ImportGPX(id, []byte("not xml")); err == nil {
		t.Error("expected parse error")
	}
}

func TestSessionService_ForgetRefetches(t *testing.T) {
	fetcher := &mockFetcher{}
	svc := newSessions(t, fetcher, nil)
	id := svc.Create(context.Background(), usecases.CreateSessionRequest{}).ID
	bounds := viewport(853, 1552, 1, 1)

	_, _ = svc.Refresh(context.Background(), id, bounds, 13)
	_, _ = svc.Refresh(context.Background(), id, bounds, 13)
	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("expected cached second refresh, got %d fetches", n)
	}

	_ = svc.Forget(context.Background(), []string{"12/853/1552"})
	_, _ = svc.Refresh(context.Background(), id, bounds, 13)
	if n := fetcher.calls.Load(); n != 2 {
		t.Errorf("expected refetch after forget, got %d fetches", n)
	}
}
