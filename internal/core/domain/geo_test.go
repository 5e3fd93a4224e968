package domain_test

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

func TestTileKey_StringAndParse(t *testing.T) {
	k := domain.TileKey{Zoom: 12, X: 853, Y: 1552}
	if k.String() != "12/853/1552" {
		t.Fatalf("expected 12/853/1552, got %s", k.String())
	}

	parsed, err := domain.ParseTileKey(k.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != k {
		t.Errorf("expected %+v, got %+v", k, parsed)
	}
}

func TestParseTileKey_Invalid(t *testing.T) {
	for _, s := range []string{"", "12/1", "a/b/c", "2/4/0", "-1/0/0"} {
		if _, err := domain.ParseTileKey(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestTileEntry_Fresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := domain.NewTileEntry(domain.TileKey{Zoom: 12}, domain.NewTileData(), now.Add(-23*time.Hour))
	if !e.Fresh(now, 24*time.Hour) {
		t.Error("expected 23h-old entry to be fresh")
	}

	e = domain.NewTileEntry(domain.TileKey{Zoom: 12}, domain.NewTileData(), now.Add(-25*time.Hour))
	if e.Fresh(now, 24*time.Hour) {
		t.Error("expected 25h-old entry to be stale")
	}
}

func TestBounds_BBox(t *testing.T) {
	b := domain.Bounds{South: 40, West: -100.5, North: 40.25, East: -100}
	if got := b.BBox(); got != "40,-100.5,40.25,-100" {
		t.Errorf("unexpected bbox %q", got)
	}
	if !b.Valid() {
		t.Error("expected bounds to be valid")
	}
	if (domain.Bounds{South: 41, North: 40}).Valid() {
		t.Error("expected inverted bounds to be invalid")
	}
}

func TestTilePayload_RoundTrip(t *testing.T) {
	d := domain.NewTileData()
	d.Trails.Append(geojson.NewFeature(orb.LineString{{-100, 40}, {-100, 40.01}}))

	p, err := domain.EncodeTilePayload(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := p.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Trails.Features) != 1 || len(got.Trailheads.Features) != 0 {
		t.Errorf("unexpected counts %d/%d", len(got.Trails.Features), len(got.Trailheads.Features))
	}
}

func TestTilePayload_Null(t *testing.T) {
	p := domain.TilePayload{TrailGeoJSON: "null", TrailheadGeoJSON: ""}
	d, err := p.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Trails == nil || d.Trailheads == nil {
		t.Fatal("expected empty, non-nil collections")
	}

	if _, err := (&domain.TilePayload{TrailGeoJSON: "{"}).Decode(); err == nil {
		t.Error("expected error for malformed GeoJSON")
	}
}
