// Package overpassadapter fetches trail tiles from an Overpass API interpreter.
package overpassadapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cwbudde/go-overpass"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/pkg/geospatial"
	"github.com/samirrijal/trailsketch/internal/pkg/telemetry"
)

// DefaultEndpoint is the public Overpass interpreter.
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// Fetcher implements ports.TileFetcher against Overpass. Each tile issues a
// trail query and a trailhead query.
type Fetcher struct {
	client overpass.Client
}

// New creates a Fetcher. maxParallel caps in-flight Overpass requests across
// all callers.
func New(endpoint string, maxParallel int, httpClient *http.Client) *Fetcher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{client: overpass.NewWithSettings(endpoint, maxParallel, httpClient)}
}

// FetchTile queries trails and trailheads inside the tile.
func (f *Fetcher) FetchTile(ctx context.Context, key domain.TileKey) (*domain.TileData, error) {
	b := geospatial.TileToBounds(key.X, key.Y, key.Zoom)
	data := domain.NewTileData()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := f.query(ctx, TrailQuery(b))
		if err != nil {
			return fmt.Errorf("trails %s: %w", key, err)
		}
		data.Trails = ToFeatureCollection(res)
		return nil
	})
	g.Go(func() error {
		res, err := f.query(ctx, TrailheadQuery(b))
		if err != nil {
			return fmt.Errorf("trailheads %s: %w", key, err)
		}
		data.Trailheads = ToFeatureCollection(res)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

// query runs q, returning early if ctx ends first. The client has no context
// support, so an abandoned request finishes in the background.
func (f *Fetcher) query(ctx context.Context, q string) (overpass.Result, error) {
	_, span := telemetry.Tracer().Start(ctx, telemetry.SpanOverpass)
	defer span.End()

	type result struct {
		res overpass.Result
		err error
	}
	ch := make(chan result, 1)
	go func() {
		res, err := f.client.Query(q)
		ch <- result{res, err}
	}()

	select {
	case <-ctx.Done():
		return overpass.Result{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			span.RecordError(r.err)
		}
		return r.res, r.err
	}
}

// TrailQuery selects footpaths, hiking and cycling route relations, and parks.
func TrailQuery(b domain.Bounds) string {
	bbox := b.BBox()
	return fmt.Sprintf(`[out:json][timeout:25];
(
  way["highway"~"path|footway|cycleway|pedestrian|track|steps|bridleway"](%[1]s);
  relation["route"~"hiking|bicycle|foot"](%[1]s);
  relation["leisure"="park"](%[1]s);
);
out body; >; out skel qt;`, bbox)
}

// TrailheadQuery selects trailhead nodes and hiking car parks.
func TrailheadQuery(b domain.Bounds) string {
	bbox := b.BBox()
	return fmt.Sprintf(`[out:json][timeout:25];
(
  node["information"="trailhead"]["informal"!="yes"](%[1]s);
  node["amenity"="parking"]["access"!="private"]["hiking"="yes"](%[1]s);
);
out geom;`, bbox)
}
