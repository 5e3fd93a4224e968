package drawing_test

import (
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailsketch/internal/core/drawing"
)

// coords flattens a collection to comparable coordinates, in order.
func coords(fc *geojson.FeatureCollection) string {
	return fmt.Sprint(func() []orb.Geometry {
		var out []orb.Geometry
		for _, f := range fc.Features {
			out = append(out, f.Geometry)
		}
		return out
	}())
}

func drawLine(s *drawing.Session, i int) {
	lat := 40 + float64(i)*0.01
	s.Handle(drawing.PointerEvent{Kind: drawing.Click, Point: orb.Point{-100, lat}})
	s.Handle(drawing.PointerEvent{Kind: drawing.Click, Point: orb.Point{-100.005, lat}})
	s.Handle(drawing.PointerEvent{Kind: drawing.DoubleClick, Point: orb.Point{-100.005, lat}})
}

func TestUndo_NCreatesThenNUndos(t *testing.T) {
	s := drawing.NewSession(drawing.DefaultConfig())
	s.Add(geojson.NewFeature(orb.LineString{{1, 1}, {2, 2}}))
	f0 := coords(s.Features())

	if err := s.SetMode(drawing.ModeDraw); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	const n = 10
	for i := 0; i < n; i++ {
		drawLine(s, i)
	}
	if got := len(s.Features().Features); got != n+1 {
		t.Fatalf("expected %d features, got %d", n+1, got)
	}

	for i := 0; i < n; i++ {
		if !s.Undo() {
			t.Fatalf("undo %d failed", i)
		}
	}
	if got := coords(s.Features()); got != f0 {
		t.Errorf("expected %s after undos, got %s", f0, got)
	}
}

func TestUndo_NeedsTwoStates(t *testing.T) {
	s := drawing.NewSession(drawing.DefaultConfig())
	if s.Undo() {
		t.Error("expected undo to fail on initial state")
	}

	s.Add(geojson.NewFeature(orb.LineString{{0, 0}, {0, 1}}))
	if !s.Undo() {
		t.Fatal("expected undo to succeed")
	}
	if s.Undo() {
		t.Error("expected second undo to fail")
	}
}

func TestRedo(t *testing.T) {
	s := drawing.NewSession(drawing.DefaultConfig())
	s.Add(geojson.NewFeature(orb.LineString{{0, 0}, {0, 1}}))
	s.Add(geojson.NewFeature(orb.LineString{{1, 0}, {1, 1}}))
	full := coords(s.Features())

	s.Undo()
	s.Undo()
	if n := len(s.Features().Features); n != 0 {
		t.Fatalf("expected empty after undos, got %d", n)
	}

	s.Redo()
	s.Redo()
	if got := coords(s.Features()); got != full {
		t.Errorf("expected %s after redos, got %s", full, got)
	}
	if s.Redo() {
		t.Error("expected redo with empty stack to fail")
	}
}

func TestRedo_ClearedByNewAction(t *testing.T) {
	s := drawing.NewSession(drawing.DefaultConfig())
	s.Add(geojson.NewFeature(orb.LineString{{0, 0}, {0, 1}}))
	s.Undo()
	if _, redo := s.HistoryDepth(); redo != 1 {
		t.Fatalf("expected 1 redo entry, got %d", redo)
	}

	s.Add(geojson.NewFeature(orb.LineString{{1, 0}, {1, 1}}))
	if _, redo := s.HistoryDepth(); redo != 0 {
		t.Errorf("expected redo cleared, got %d", redo)
	}
}

func TestUndo_RestoreDoesNotRecord(t *testing.T) {
	s := drawing.NewSession(drawing.DefaultConfig())
	for i := 0; i < 3; i++ {
		s.Add(geojson.NewFeature(orb.LineString{{float64(i), 0}, {float64(i), 1}}))
	}
	s.Undo()

	undo, redo := s.HistoryDepth()
	if undo != 3 || redo != 1 {
		t.Errorf("expected depths 3/1 after undo, got %d/%d", undo, redo)
	}
}

func TestHistory_Cap(t *testing.T) {
	s := drawing.NewSession(drawing.DefaultConfig())
	for i := 0; i < 60; i++ {
		s.Add(geojson.NewFeature(orb.LineString{{float64(i), 0}, {float64(i), 1}}))
	}
	if undo, _ := s.HistoryDepth(); undo != drawing.DefaultHistoryDepth {
		t.Fatalf("expected history capped at %d, got %d", drawing.DefaultHistoryDepth, undo)
	}

	undos := 0
	for s.Undo() {
		undos++
	}
	if undos != drawing.DefaultHistoryDepth-1 {
		t.Errorf("expected %d undos, got %d", drawing.DefaultHistoryDepth-1, undos)
	}
	// The oldest ten snapshots were dropped.
	if n := len(s.Features().Features); n != 11 {
		t.Errorf("expected 11 features at oldest kept state, got %d", n)
	}
}

func TestHistory_SnapshotsAreIndependent(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.LineString{{0, 0}, {0, 1}}))
	h := drawing.NewHistory(drawing.DefaultHistoryDepth, geojson.NewFeatureCollection())
	h.Record(fc)

	fc.Features[0].Geometry.(orb.LineString)[0] = orb.Point{5, 5}
	h.Record(geojson.NewFeatureCollection())

	prev, ok := h.Undo()
	if !ok {
		t.Fatal("expected undo")
	}
	if prev.Features[0].Geometry.(orb.LineString)[0].Equal(orb.Point{5, 5}) {
		t.Error("expected snapshot to be unaffected by later mutation")
	}
}
