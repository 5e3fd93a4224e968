package drawing

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultHistoryDepth bounds the number of snapshots kept.
const DefaultHistoryDepth = 50

// History is an undo/redo stack of feature-set snapshots. The top of the undo
// stack is always the current state.
type History struct {
	max       int
	undo      []*geojson.FeatureCollection
	redo      []*geojson.FeatureCollection
	restoring bool
}

// NewHistory starts a history at initial.
func NewHistory(max int, initial *geojson.FeatureCollection) *History {
	if max < 2 {
		max = DefaultHistoryDepth
	}
	return &History{
		max:  max,
		undo: []*geojson.FeatureCollection{cloneCollection(initial)},
	}
}

// Record pushes a snapshot and clears the redo stack. It does nothing while a
// snapshot is being restored.
func (h *History) Record(fc *geojson.FeatureCollection) {
	if h.restoring {
		return
	}
	h.undo = append(h.undo, cloneCollection(fc))
	h.redo = nil
	if len(h.undo) > h.max {
		h.undo = h.undo[len(h.undo)-h.max:]
	}
}

// Undo moves the current state to the redo stack and returns the previous
// one. It needs at least two snapshots.
func (h *History) Undo() (*geojson.FeatureCollection, bool) {
	if len(h.undo) < 2 {
		return nil, false
	}
	top := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, top)
	return cloneCollection(h.undo[len(h.undo)-1]), true
}

// Redo reapplies the most recently undone state.
func (h *History) Redo() (*geojson.FeatureCollection, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, next)
	return cloneCollection(next), true
}

// Restore runs fn with recording suspended.
func (h *History) Restore(fn func()) {
	h.restoring = true
	defer func() { h.restoring = false }()
	fn()
}

// Depth returns the undo and redo stack sizes.
func (h *History) Depth() (undo, redo int) {
	return len(h.undo), len(h.redo)
}

func cloneCollection(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	for _, f := range fc.Features {
		out.Append(cloneFeature(f))
	}
	return out
}

func cloneFeature(f *geojson.Feature) *geojson.Feature {
	c := &geojson.Feature{ID: f.ID, Type: f.Type, Properties: geojson.Properties{}}
	if f.Properties != nil {
		c.Properties = f.Properties.Clone()
	}
	if f.Geometry != nil {
		c.Geometry = orb.Clone(f.Geometry)
	}
	if f.BBox != nil {
		c.BBox = append(geojson.BBox(nil), f.BBox...)
	}
	return c
}
