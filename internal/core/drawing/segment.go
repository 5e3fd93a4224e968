package drawing

import "github.com/paulmach/orb"

// SegmentMode chains clicks into one line. Each click first snaps to the
// endpoint of an existing route, then to trail data. Landing on an existing
// endpoint after the first anchor closes the chain.
type SegmentMode struct {
	anchors orb.LineString
	cursor  *orb.Point
}

func (*SegmentMode) Name() ModeName { return ModeSegment }

func (m *SegmentMode) Handle(c canvas, ev PointerEvent) {
	switch ev.Kind {
	case Click:
		p, onEndpoint := c.snapEndpoint(ev.Point)
		if !onEndpoint {
			p = c.snap(ev.Point)
		}
		if n := len(m.anchors); n > 0 && m.anchors[n-1].Equal(p) {
			return
		}
		m.anchors = append(m.anchors, p)
		m.cursor = nil
		if onEndpoint && len(m.anchors) >= 2 {
			m.finish(c)
		}
	case PointerMove:
		if len(m.anchors) > 0 {
			p, ok := c.snapEndpoint(ev.Point)
			if !ok {
				p = c.snap(ev.Point)
			}
			m.cursor = &p
		}
	case DoubleClick:
		m.finish(c)
	}
}

func (m *SegmentMode) Stop(c canvas) { m.finish(c) }

func (m *SegmentMode) finish(c canvas) {
	if len(m.anchors) >= 2 {
		c.create(m.anchors, ModeSegment)
	}
	m.anchors = nil
	m.cursor = nil
}

func (m *SegmentMode) Preview() orb.LineString {
	if len(m.anchors) == 0 {
		return nil
	}
	ls := append(orb.LineString(nil), m.anchors...)
	if m.cursor != nil {
		ls = append(ls, *m.cursor)
	}
	return ls
}

func (m *SegmentMode) Tracking() bool { return len(m.anchors) > 0 }
