package drawing

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/pkg/geospatial"
)

// Sampling and snapping defaults.
const (
	// DefaultSpacingMeters is 25 ft.
	DefaultSpacingMeters           = 25 * geospatial.FeetToMeters
	DefaultSnapThresholdMeters     = 20
	DefaultEndpointThresholdMeters = 20
)

// Config tunes a Session.
type Config struct {
	SpacingMeters           float64
	SnapThresholdMeters     float64
	EndpointThresholdMeters float64
	HistoryDepth            int
}

// DefaultConfig returns the standard drawing settings.
func DefaultConfig() Config {
	return Config{
		SpacingMeters:           DefaultSpacingMeters,
		SnapThresholdMeters:     DefaultSnapThresholdMeters,
		EndpointThresholdMeters: DefaultEndpointThresholdMeters,
		HistoryDepth:            DefaultHistoryDepth,
	}
}

// Session is one user's drawing state: the drawn routes, the trail data used
// for snapping, the active mode and the undo history. It is safe for
// concurrent use.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	features []*geojson.Feature
	trails   *geojson.FeatureCollection
	snapping bool
	mode     Mode
	history  *History
}

// NewSession creates an empty session in pan mode with snapping enabled.
func NewSession(cfg Config) *Session {
	def := DefaultConfig()
	if cfg.SpacingMeters <= 0 {
		cfg.SpacingMeters = def.SpacingMeters
	}
	if cfg.SnapThresholdMeters <= 0 {
		cfg.SnapThresholdMeters = def.SnapThresholdMeters
	}
	if cfg.EndpointThresholdMeters <= 0 {
		cfg.EndpointThresholdMeters = def.EndpointThresholdMeters
	}
	s := &Session{
		cfg:      cfg,
		trails:   geojson.NewFeatureCollection(),
		snapping: true,
		mode:     &PanMode{},
	}
	s.history = NewHistory(cfg.HistoryDepth, geojson.NewFeatureCollection())
	return s
}

// Handle dispatches a pointer event to the active mode.
func (s *Session) Handle(ev PointerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.Handle(s, ev)
}

// SetMode stops the active mode and switches to name.
func (s *Session) SetMode(name ModeName) error {
	m, err := NewMode(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode.Stop(s)
	s.mode = m
	return nil
}

// Mode returns the active mode name.
func (s *Session) Mode() ModeName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode.Name()
}

// Tracking reports whether the active mode has a line in progress.
func (s *Session) Tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode.Tracking()
}

// Preview returns the line in progress.
func (s *Session) Preview() orb.LineString {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode.Preview()
}

func (s *Session) SetSnapping(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapping = enabled
}

func (s *Session) Snapping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapping
}

// SetTrails replaces the snap candidates.
func (s *Session) SetTrails(fc *geojson.FeatureCollection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	s.trails = fc
}

// Snap snaps p against the session's trails with its current settings.
func (s *Session) Snap(p orb.Point) orb.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap(p)
}

// Add inserts a feature, assigning an ID when it has none, and records the
// change. It returns the feature ID.
func (s *Session) Add(f *geojson.Feature) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.add(cloneFeature(f))
	s.record()
	return id
}

// Import adds every line feature of fc as a single recorded change.
func (s *Session) Import(fc *geojson.FeatureCollection) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fc == nil {
		return nil
	}
	var ids []string
	for _, f := range fc.Features {
		switch f.Geometry.(type) {
		case orb.LineString, orb.MultiLineString:
			ids = append(ids, s.add(cloneFeature(f)))
		}
	}
	if len(ids) > 0 {
		s.record()
	}
	return ids
}

// Update replaces a feature's geometry.
func (s *Session) Update(id string, g orb.Geometry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("feature %s: %w", id, domain.ErrNotFound)
	}
	s.features[i].Geometry = orb.Clone(g)
	s.record()
	return nil
}

// Delete removes a feature.
func (s *Session) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("feature %s: %w", id, domain.ErrNotFound)
	}
	s.features = append(s.features[:i], s.features[i+1:]...)
	s.record()
	return nil
}

// Undo restores the previous snapshot. It reports false when there is
// nothing to undo.
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fc, ok := s.history.Undo()
	if ok {
		s.restore(fc)
	}
	return ok
}

// Redo reapplies the last undone snapshot.
func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fc, ok := s.history.Redo()
	if ok {
		s.restore(fc)
	}
	return ok
}

// HistoryDepth returns the undo and redo stack sizes.
func (s *Session) HistoryDepth() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Depth()
}

// Features returns a deep copy of the drawn routes.
func (s *Session) Features() *geojson.FeatureCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection()
}

// restore replaces the working set with fc by deleting everything and adding
// each feature back. History recording is suspended meanwhile.
func (s *Session) restore(fc *geojson.FeatureCollection) {
	s.history.Restore(func() {
		s.features = nil
		s.record()
		for _, f := range fc.Features {
			s.add(f)
			s.record()
		}
	})
}

func (s *Session) add(f *geojson.Feature) string {
	if f.ID == nil || f.ID == "" {
		f.ID = uuid.NewString()
	}
	s.features = append(s.features, f)
	return fmt.Sprint(f.ID)
}

// record snapshots the working set unless a free-draw drag is in progress.
func (s *Session) record() {
	if s.mode.Name() == ModeFreeDraw && s.mode.Tracking() {
		return
	}
	s.history.Record(s.collection())
}

func (s *Session) collection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range s.features {
		fc.Append(cloneFeature(f))
	}
	return fc
}

func (s *Session) indexOf(id string) int {
	for i, f := range s.features {
		if fmt.Sprint(f.ID) == id {
			return i
		}
	}
	return -1
}

// canvas implementation; callers hold s.mu.

func (s *Session) snap(p orb.Point) orb.Point {
	return geospatial.Snap(p, s.trails, s.cfg.SnapThresholdMeters, s.snapping)
}

func (s *Session) snapEndpoint(p orb.Point) (orb.Point, bool) {
	return geospatial.SnapToEndpoints(p, s.features, s.cfg.EndpointThresholdMeters)
}

func (s *Session) create(ls orb.LineString, mode ModeName) {
	f := geojson.NewFeature(append(orb.LineString(nil), ls...))
	f.Properties["mode"] = string(mode)
	s.add(f)
	s.record()
}

func (s *Session) spacing() float64 { return s.cfg.SpacingMeters }
