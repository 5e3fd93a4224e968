package domain

import (
	"fmt"

	"github.com/paulmach/orb"
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point converts to an orb point (lon, lat).
func (p GeoPoint) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Bounds represents a geographic bounding box in south/west/north/east order.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Bound converts to an orb bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

// Valid reports whether the box is non-inverted and inside WGS 84 ranges.
func (b Bounds) Valid() bool {
	return b.South <= b.North && b.West <= b.East &&
		b.South >= -90 && b.North <= 90 && b.West >= -180 && b.East <= 180
}

// BoundsFrom converts an orb bound back to south/west/north/east.
func BoundsFrom(b orb.Bound) Bounds {
	return Bounds{South: b.Min.Lat(), West: b.Min.Lon(), North: b.Max.Lat(), East: b.Max.Lon()}
}

// BBox formats the box the way Overpass expects it: "south,west,north,east".
func (b Bounds) BBox() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.South, b.West, b.North, b.East)
}

// MapView is an initial map center and zoom.
type MapView struct {
	Center GeoPoint `json:"center"`
	Zoom   int      `json:"zoom"`
}
