// Package drawing turns pointer events into route features. A Session owns
// the drawn feature set and dispatches events to the active Mode.
package drawing

import (
	"fmt"

	"github.com/paulmach/orb"
)

// EventKind is the type of a pointer event.
type EventKind string

const (
	PointerDown EventKind = "down"
	PointerMove EventKind = "move"
	PointerUp   EventKind = "up"
	Click       EventKind = "click"
	DoubleClick EventKind = "dblclick"
)

// PointerEvent is a pointer action at a map coordinate.
type PointerEvent struct {
	Kind  EventKind `json:"kind"`
	Point orb.Point `json:"point"`
}

// ModeName identifies a drawing mode.
type ModeName string

const (
	ModePan      ModeName = "pan"
	ModeDraw     ModeName = "draw"
	ModeFreeDraw ModeName = "free"
	ModeSegment  ModeName = "segment"
)

// Mode handles pointer events for one drawing mode.
type Mode interface {
	Name() ModeName
	Handle(c canvas, ev PointerEvent)
	// Stop ends the mode, finishing or discarding any line in progress.
	Stop(c canvas)
	// Preview is the line in progress, if any.
	Preview() orb.LineString
	// Tracking reports whether a line is being collected.
	Tracking() bool
}

// canvas is the part of a Session a mode draws on.
type canvas interface {
	snap(p orb.Point) orb.Point
	snapEndpoint(p orb.Point) (orb.Point, bool)
	create(ls orb.LineString, mode ModeName)
	spacing() float64
}

// NewMode returns a fresh mode by name.
func NewMode(name ModeName) (Mode, error) {
	switch name {
	case ModePan:
		return &PanMode{}, nil
	case ModeDraw:
		return &DrawMode{}, nil
	case ModeFreeDraw:
		return &FreeDrawMode{}, nil
	case ModeSegment:
		return &SegmentMode{}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", name)
	}
}

// PanMode ignores pointer events.
type PanMode struct{}

func (*PanMode) Name() ModeName { return ModePan }
func (*PanMode) Handle(canvas, PointerEvent) {}
func (*PanMode) Stop(canvas) {}
func (*PanMode) Preview() orb.LineString { return nil }
func (*PanMode) Tracking() bool { return false }
