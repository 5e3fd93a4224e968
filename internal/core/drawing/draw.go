package drawing

import "github.com/paulmach/orb"

// DrawMode builds a line click by click. A double-click or mode change
// finishes it.
type DrawMode struct {
	vertices orb.LineString
	cursor   *orb.Point
}

func (*DrawMode) Name() ModeName { return ModeDraw }

func (m *DrawMode) Handle(c canvas, ev PointerEvent) {
	switch ev.Kind {
	case Click:
		m.vertices = append(m.vertices, c.snap(ev.Point))
	case PointerMove:
		if len(m.vertices) > 0 {
			p := c.snap(ev.Point)
			m.cursor = &p
		}
	case DoubleClick:
		m.finish(c)
	}
}

func (m *DrawMode) Stop(c canvas) { m.finish(c) }

func (m *DrawMode) finish(c canvas) {
	if len(m.vertices) >= 2 {
		c.create(m.vertices, ModeDraw)
	}
	m.vertices = nil
	m.cursor = nil
}

func (m *DrawMode) Preview() orb.LineString {
	if len(m.vertices) == 0 {
		return nil
	}
	ls := append(orb.LineString(nil), m.vertices...)
	if m.cursor != nil {
		ls = append(ls, *m.cursor)
	}
	return ls
}

func (m *DrawMode) Tracking() bool { return len(m.vertices) > 0 }
