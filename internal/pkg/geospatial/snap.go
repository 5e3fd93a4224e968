package geospatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Snap returns the trail vertex nearest to p when it lies within thresholdMeters.
// Otherwise, or when snapping is disabled or there are no candidates, p is returned unchanged.
// Ties keep the first vertex encountered.
func Snap(p orb.Point, candidates *geojson.FeatureCollection, thresholdMeters float64, enabled bool) orb.Point {
	if !enabled || candidates == nil || len(candidates.Features) == 0 {
		return p
	}

	nearest, best := p, math.Inf(1)
	visit := func(v orb.Point) {
		if d := Haversine(v, p); d < best {
			best, nearest = d, v
		}
	}

	for _, f := range candidates.Features {
		if f == nil {
			continue
		}
		switch g := f.Geometry.(type) {
		case orb.LineString:
			for _, v := range g {
				visit(v)
			}
		case orb.MultiLineString:
			for _, ls := range g {
				for _, v := range ls {
					visit(v)
				}
			}
		}
	}

	if best <= thresholdMeters {
		return nearest
	}
	return p
}

// SnapToEndpoints snaps p to the nearest first or last vertex of a line feature
// within thresholdMeters. The bool reports whether a snap happened.
func SnapToEndpoints(p orb.Point, features []*geojson.Feature, thresholdMeters float64) (orb.Point, bool) {
	nearest, best := p, math.Inf(1)
	for _, f := range features {
		if f == nil {
			continue
		}
		ls, ok := f.Geometry.(orb.LineString)
		if !ok || len(ls) == 0 {
			continue
		}
		for _, v := range []orb.Point{ls[0], ls[len(ls)-1]} {
			if d := Haversine(v, p); d < best {
				best, nearest = d, v
			}
		}
	}
	if best <= thresholdMeters {
		return nearest, true
	}
	return p, false
}
