package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// TileKey identifies a Web Mercator slippy-map tile.
type TileKey struct {
	Zoom int `json:"zoom"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

// String returns the canonical "zoom/x/y" form.
func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Zoom, k.X, k.Y)
}

// Valid reports whether x and y are inside the zoom level's tile grid.
func (k TileKey) Valid() bool {
	if k.Zoom < 0 || k.Zoom > 22 {
		return false
	}
	n := 1 << k.Zoom
	return k.X >= 0 && k.X < n && k.Y >= 0 && k.Y < n
}

// Bound returns the tile's geographic extent.
func (k TileKey) Bound() orb.Bound {
	return maptile.New(uint32(k.X), uint32(k.Y), maptile.Zoom(k.Zoom)).Bound()
}

// ParseTileKey parses "zoom/x/y".
func ParseTileKey(s string) (TileKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return TileKey{}, fmt.Errorf("tile key %q: want zoom/x/y", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return TileKey{}, fmt.Errorf("tile key %q: %w", s, err)
		}
		nums[i] = n
	}
	k := TileKey{Zoom: nums[0], X: nums[1], Y: nums[2]}
	if !k.Valid() {
		return TileKey{}, fmt.Errorf("tile key %q out of range", s)
	}
	return k, nil
}

// TileData is the parsed trail geometry for one tile.
type TileData struct {
	Trails     *geojson.FeatureCollection `json:"trails"`
	Trailheads *geojson.FeatureCollection `json:"trailheads"`
}

// NewTileData returns TileData with empty, non-nil collections.
func NewTileData() *TileData {
	return &TileData{
		Trails:     geojson.NewFeatureCollection(),
		Trailheads: geojson.NewFeatureCollection(),
	}
}

// Normalize replaces nil collections with empty ones.
func (d *TileData) Normalize() {
	if d.Trails == nil {
		d.Trails = geojson.NewFeatureCollection()
	}
	if d.Trailheads == nil {
		d.Trailheads = geojson.NewFeatureCollection()
	}
}

// TileEntry is a cached tile record. It is also the persisted record schema:
// {tileKey: "zoom/x/y", timestamp: epoch-ms, data: {trails, trailheads}}.
type TileEntry struct {
	TileKey   string   `json:"tileKey"`
	Timestamp int64    `json:"timestamp"`
	Data      TileData `json:"data"`
}

// NewTileEntry stamps data fetched at t.
func NewTileEntry(key TileKey, data *TileData, t time.Time) *TileEntry {
	data.Normalize()
	return &TileEntry{TileKey: key.String(), Timestamp: t.UnixMilli(), Data: *data}
}

// FetchedAt returns the entry timestamp as a time.
func (e *TileEntry) FetchedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Fresh reports whether the entry is younger than expiry at now.
func (e *TileEntry) Fresh(now time.Time, expiry time.Duration) bool {
	return now.Sub(e.FetchedAt()) < expiry
}

// TrailResult is the response to a viewport trail query.
type TrailResult struct {
	Trails     *geojson.FeatureCollection `json:"trails"`
	Trailheads *geojson.FeatureCollection `json:"trailheads"`
}

// TileEvent is broadcast when a tile is loaded or evicted.
type TileEvent struct {
	TileKey    string    `json:"tile_key"`
	Trails     int       `json:"trails"`
	Trailheads int       `json:"trailheads"`
	FetchedAt  time.Time `json:"fetched_at"`
}
