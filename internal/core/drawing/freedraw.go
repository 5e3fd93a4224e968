package drawing

import (
	"github.com/paulmach/orb"

	"github.com/samirrijal/trailsketch/internal/pkg/geospatial"
)

// FreeDrawMode samples a drag into a polyline. A move is kept only when it
// lands at least the sample spacing away from the last kept point.
type FreeDrawMode struct {
	tracking bool
	samples  orb.LineString
}

func (*FreeDrawMode) Name() ModeName { return ModeFreeDraw }

func (m *FreeDrawMode) Handle(c canvas, ev PointerEvent) {
	switch ev.Kind {
	case PointerDown:
		m.tracking = true
		m.samples = orb.LineString{c.snap(ev.Point)}
	case PointerMove:
		if !m.tracking || len(m.samples) == 0 {
			return
		}
		p := c.snap(ev.Point)
		last := m.samples[len(m.samples)-1]
		if geospatial.Haversine(last, p) >= c.spacing() {
			m.samples = append(m.samples, p)
		}
	case PointerUp:
		if !m.tracking {
			return
		}
		samples := m.samples
		m.reset()
		if len(samples) >= 2 {
			c.create(samples, ModeFreeDraw)
		}
	}
}

// Stop discards an unfinished drag.
func (m *FreeDrawMode) Stop(canvas) { m.reset() }

func (m *FreeDrawMode) reset() {
	m.tracking = false
	m.samples = nil
}

func (m *FreeDrawMode) Preview() orb.LineString {
	return append(orb.LineString(nil), m.samples...)
}

func (m *FreeDrawMode) Tracking() bool { return m.tracking }
