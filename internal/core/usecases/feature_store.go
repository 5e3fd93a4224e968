package usecases

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

// FeatureStore deduplicates features by source identifier. A feature fetched
// by several overlapping tiles is held once.
type FeatureStore struct {
	mu       sync.RWMutex
	features map[string]*geojson.Feature
	order    []string
}

// NewFeatureStore creates an empty FeatureStore.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{features: make(map[string]*geojson.Feature)}
}

// featureKey returns the source identifier. Features without one are keyed by
// their geometry so identical anonymous geometries still collapse.
func featureKey(f *geojson.Feature) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	return fmt.Sprintf("geom:%v", f.Geometry)
}

// Add merges features, returning how many were new.
func (s *FeatureStore) Add(features ...*geojson.Feature) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		k := featureKey(f)
		if _, ok := s.features[k]; ok {
			continue
		}
		s.features[k] = f
		s.order = append(s.order, k)
		added++
	}
	return added
}

// Len returns the number of distinct features.
func (s *FeatureStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.features)
}

// Within returns features intersecting b, in insertion order. Points match by
// containment; other geometries match when any vertex is inside b, so a line
// crossing b without a vertex inside it is not returned.
func (s *FeatureStore) Within(b domain.Bounds) *geojson.FeatureCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bound := b.Bound()
	fc := geojson.NewFeatureCollection()
	for _, k := range s.order {
		f := s.features[k]
		if anyVertex(f.Geometry, bound.Contains) {
			fc.Append(f)
		}
	}
	return fc
}

// Reset drops every feature.
func (s *FeatureStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = make(map[string]*geojson.Feature)
	s.order = nil
}

func anyVertex(g orb.Geometry, match func(orb.Point) bool) bool {
	switch g := g.(type) {
	case orb.Point:
		return match(g)
	case orb.MultiPoint:
		for _, p := range g {
			if match(p) {
				return true
			}
		}
	case orb.LineString:
		return anyVertex(orb.MultiPoint(g), match)
	case orb.Ring:
		return anyVertex(orb.MultiPoint(g), match)
	case orb.MultiLineString:
		for _, ls := range g {
			if anyVertex(ls, match) {
				return true
			}
		}
	case orb.Polygon:
		for _, r := range g {
			if anyVertex(r, match) {
				return true
			}
		}
	case orb.MultiPolygon:
		for _, p := range g {
			if anyVertex(p, match) {
				return true
			}
		}
	case orb.Collection:
		for _, c := range g {
			if anyVertex(c, match) {
				return true
			}
		}
	}
	return false
}
