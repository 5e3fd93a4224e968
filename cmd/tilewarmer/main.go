package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"strings"

	overpassadapter "github.com/samirrijal/trailsketch/internal/adapters/overpass"
	"github.com/samirrijal/trailsketch/internal/adapters/postgres"
	"github.com/samirrijal/trailsketch/internal/adapters/sqlite"
	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/ports"
	"github.com/samirrijal/trailsketch/internal/core/usecases"
	"github.com/samirrijal/trailsketch/internal/pkg/config"
	"github.com/samirrijal/trailsketch/internal/pkg/logging"
)

// ---------------------------------------------------------------------------
// Manifest types
// ---------------------------------------------------------------------------

// Manifest lists the regions to preload.
type Manifest struct {
	Source  string   `json:"source"`
	Regions []Region `json:"regions"`
}

// Region is a named bounding box. Zoom defaults to the configured tile zoom.
type Region struct {
	Name   string        `json:"name"`
	Slug   string        `json:"slug"`
	Bounds domain.Bounds `json:"bounds"`
	Zoom   int           `json:"zoom,omitempty"`
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	cfg, err := config.Load("trailsketch-tilewarmer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	manifestPath := "regions.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Fatalf("read manifest: %v", err)
	}
	manifest, err := parseManifest(data, cfg.Trails.TileZoom)
	if err != nil {
		log.Fatalf("parse manifest: %v", err)
	}

	// Filter regions (optional CLI arg: slug list)
	var slugs []string
	if len(os.Args) > 2 {
		slugs = strings.Split(os.Args[2], ",")
	}
	regions := manifest.Filter(slugs)
	slog.Info("tile warmer starting", "regions", len(regions), "source", manifest.Source, "store", cfg.Trails.Store)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	fetcher := overpassadapter.New(cfg.Trails.OverpassURL, cfg.Trails.OverpassParallel,
		&nethttp.Client{Timeout: cfg.Trails.FetchTimeout()})
	tiles := usecases.NewTileService(fetcher, store, nil)
	tiles.SetExpiry(cfg.Trails.Expiry())

	failed := 0
	for _, r := range regions {
		stats, err := tiles.Warm(ctx, r.Bounds, r.Zoom, cfg.Trails.MaxConcurrentFetches)
		if err != nil {
			slog.Error("region failed", "region", r.Slug, "error", err)
			failed++
			continue
		}
		slog.Info("region warmed", "region", r.Slug, "tiles", stats.Tiles, "failed", stats.Failed)
	}

	if failed > 0 {
		log.Fatalf("%d of %d regions failed", failed, len(regions))
	}
	slog.Info("warming complete")
}

// parseManifest decodes and validates a manifest, filling zoom defaults.
func parseManifest(data []byte, defaultZoom int) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m.Regions) == 0 {
		return nil, errors.New("manifest has no regions")
	}
	for i := range m.Regions {
		r := &m.Regions[i]
		if r.Slug == "" {
			return nil, fmt.Errorf("region %d: slug is required", i)
		}
		if !r.Bounds.Valid() {
			return nil, fmt.Errorf("region %s: %w", r.Slug, usecases.ErrInvalidBounds)
		}
		if r.Zoom == 0 {
			r.Zoom = defaultZoom
		}
	}
	return &m, nil
}

// Filter returns the regions whose slug is listed, or all of them.
func (m *Manifest) Filter(slugs []string) []Region {
	if len(slugs) == 0 {
		return m.Regions
	}
	want := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		want[strings.TrimSpace(s)] = true
	}
	var out []Region
	for _, r := range m.Regions {
		if want[r.Slug] {
			out = append(out, r)
		}
	}
	return out
}

func openStore(ctx context.Context, cfg *config.Config) (ports.TileStore, func(), error) {
	switch cfg.Trails.Store {
	case config.StorePostgres:
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewTileRepo(db), db.Close, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.Trails.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("warming needs a persisted store, got %q", cfg.Trails.Store)
	}
}
