// Package nominatim resolves place names to a map center.
package nominatim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/muesli/gominatim"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

// DefaultServer is the public OSM Nominatim instance.
const DefaultServer = "https://nominatim.openstreetmap.org"

var setServer sync.Once

// Geocoder implements ports.Geocoder. gominatim keeps its server globally,
// so the first Geocoder created decides it for the process.
type Geocoder struct {
	search func(q string) ([]gominatim.SearchResult, error)
}

// New configures the Nominatim server and returns a Geocoder.
func New(server string) *Geocoder {
	if server == "" {
		server = DefaultServer
	}
	setServer.Do(func() { gominatim.SetServer(server) })

	return &Geocoder{search: func(q string) ([]gominatim.SearchResult, error) {
		query := gominatim.SearchQuery{Q: q, Limit: 1}
		return query.Get()
	}}
}

// Locate returns the best match for query.
func (g *Geocoder) Locate(ctx context.Context, query string) (domain.GeoPoint, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.GeoPoint{}, errors.New("empty query")
	}

	type result struct {
		res []gominatim.SearchResult
		err error
	}
	ch := make(chan result, 1)
	go func() {
		res, err := g.search(query)
		ch <- result{res, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return domain.GeoPoint{}, ctx.Err()
	case r = <-ch:
	}
	if r.err != nil {
		return domain.GeoPoint{}, fmt.Errorf("nominatim %q: %w", query, r.err)
	}
	if len(r.res) == 0 {
		return domain.GeoPoint{}, fmt.Errorf("nominatim %q: %w", query, domain.ErrNotFound)
	}
	return parseResult(r.res[0])
}

func parseResult(r gominatim.SearchResult) (domain.GeoPoint, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("lat %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("lon %q: %w", r.Lon, err)
	}
	return domain.GeoPoint{Lat: lat, Lon: lon}, nil
}
