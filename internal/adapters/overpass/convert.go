package overpassadapter

import (
	"fmt"
	"sort"

	"github.com/cwbudde/go-overpass"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// areaTags mark a closed way as a polygon rather than a line.
var areaTags = []string{"area", "leisure", "landuse", "natural", "building", "amenity"}

// ToFeatureCollection converts an Overpass result to GeoJSON. Tagged nodes
// become points, tagged ways become lines (or polygons when closed and
// area-like), and route relations become multi-lines of their member ways.
// Untagged elements only supply geometry. Feature IDs are "node/1",
// "way/2" and "relation/3", so overlapping tiles yield the same ID.
func ToFeatureCollection(res overpass.Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, id := range sortedKeys(res.Relations) {
		r := res.Relations[id]
		if r == nil || r.Tags["route"] == "" {
			continue
		}
		var mls orb.MultiLineString
		for _, m := range r.Members {
			if m.Way == nil {
				continue
			}
			if ls := wayLine(m.Way); len(ls) >= 2 {
				mls = append(mls, ls)
			}
		}
		if len(mls) > 0 {
			fc.Append(newFeature("relation", r.ID, mls, r.Tags))
		}
	}

	for _, id := range sortedKeys(res.Ways) {
		w := res.Ways[id]
		if w == nil || len(w.Tags) == 0 {
			continue
		}
		ls := wayLine(w)
		if len(ls) < 2 {
			continue
		}
		var g orb.Geometry = ls
		if len(ls) >= 4 && ls[0].Equal(ls[len(ls)-1]) && isArea(w.Tags) {
			g = orb.Polygon{orb.Ring(ls)}
		}
		fc.Append(newFeature("way", w.ID, g, w.Tags))
	}

	for _, id := range sortedKeys(res.Nodes) {
		n := res.Nodes[id]
		if n == nil || len(n.Tags) == 0 {
			continue
		}
		fc.Append(newFeature("node", n.ID, orb.Point{n.Lon, n.Lat}, n.Tags))
	}

	return fc
}

func wayLine(w *overpass.Way) orb.LineString {
	ls := make(orb.LineString, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		if n == nil {
			continue
		}
		ls = append(ls, orb.Point{n.Lon, n.Lat})
	}
	return ls
}

func isArea(tags map[string]string) bool {
	if tags["area"] == "no" {
		return false
	}
	for _, k := range areaTags {
		if tags[k] != "" {
			return true
		}
	}
	return false
}

func newFeature(kind string, id int64, g orb.Geometry, tags map[string]string) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.ID = fmt.Sprintf("%s/%d", kind, id)
	for k, v := range tags {
		f.Properties[k] = v
	}
	return f
}

func sortedKeys[T any](m map[int64]T) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
