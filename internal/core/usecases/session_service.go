package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/drawing"
	"github.com/samirrijal/trailsketch/internal/core/ports"
	"github.com/samirrijal/trailsketch/internal/pkg/debounce"
	"github.com/samirrijal/trailsketch/internal/pkg/gpxcodec"
	"github.com/samirrijal/trailsketch/internal/pkg/metrics"
	"github.com/samirrijal/trailsketch/internal/pkg/telemetry"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = fmt.Errorf("session %w", domain.ErrNotFound)

// DefaultMapView is the view used when no location is available.
var DefaultMapView = domain.MapView{
	Center: domain.GeoPoint{Lat: 39.8283, Lon: -98.5795},
	Zoom:   12,
}

// DefaultLocatedZoom is the zoom used around a known location.
const DefaultLocatedZoom = 13

// DefaultIdleTimeout is how long an untouched session survives.
const DefaultIdleTimeout = 2 * time.Hour

// SessionSettings configures a SessionService.
type SessionSettings struct {
	Drawing        drawing.Config
	DefaultView    domain.MapView
	LocatedZoom    int
	Debounce       time.Duration
	RefreshTimeout time.Duration
	GPXSpacingFeet float64
	IdleTimeout    time.Duration
}

// DefaultSessionSettings returns the standard settings.
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		Drawing:        drawing.DefaultConfig(),
		DefaultView:    DefaultMapView,
		LocatedZoom:    DefaultLocatedZoom,
		Debounce:       debounce.DefaultWait,
		RefreshTimeout: 30 * time.Second,
		GPXSpacingFeet: gpxcodec.DefaultSpacingFeet,
		IdleTimeout:    DefaultIdleTimeout,
	}
}

// CreateSessionRequest positions a new session's map. Center wins over
// Place; with neither the default view is used.
type CreateSessionRequest struct {
	Center *domain.GeoPoint `json:"center,omitempty"`
	Place  string           `json:"place,omitempty"`
}

// SessionInfo is a snapshot of a session's state.
type SessionInfo struct {
	ID        string         `json:"id"`
	Mode      string         `json:"mode"`
	Snapping  bool           `json:"snapping"`
	Features  int            `json:"features"`
	Undo      int            `json:"undo_depth"`
	Redo      int            `json:"redo_depth"`
	View      domain.MapView `json:"view"`
	Bounds    *domain.Bounds `json:"bounds,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type sessionEntry struct {
	id        string
	session   *drawing.Session
	debouncer *debounce.Debouncer
	createdAt time.Time

	mu        sync.Mutex
	view      domain.MapView
	bounds    *domain.Bounds
	updatedAt time.Time
}

// SessionService owns the open drawing sessions and keeps each session's
// snap candidates in step with its viewport.
type SessionService struct {
	trails   *TrailService
	geocoder ports.Geocoder
	settings SessionSettings
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewSessionService creates a SessionService. geocoder may be nil.
func NewSessionService(trails *TrailService, geocoder ports.Geocoder, settings SessionSettings) *SessionService {
	def := DefaultSessionSettings()
	if settings.DefaultView.Zoom == 0 {
		settings.DefaultView = def.DefaultView
	}
	if settings.LocatedZoom == 0 {
		settings.LocatedZoom = def.LocatedZoom
	}
	if settings.Debounce <= 0 {
		settings.Debounce = def.Debounce
	}
	if settings.RefreshTimeout <= 0 {
		settings.RefreshTimeout = def.RefreshTimeout
	}
	if settings.GPXSpacingFeet <= 0 {
		settings.GPXSpacingFeet = def.GPXSpacingFeet
	}
	if settings.IdleTimeout <= 0 {
		settings.IdleTimeout = def.IdleTimeout
	}
	return &SessionService{
		trails:   trails,
		geocoder: geocoder,
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*sessionEntry),
	}
}

// SetClock overrides time.Now.
func (s *SessionService) SetClock(now func() time.Time) { s.now = now }

// MapDefaults resolves the initial map view for req.
func (s *SessionService) MapDefaults(ctx context.Context, req CreateSessionRequest) domain.MapView {
	if req.Center != nil {
		return domain.MapView{Center: *req.Center, Zoom: s.settings.LocatedZoom}
	}
	if req.Place != "" && s.geocoder != nil {
		p, err := s.geocoder.Locate(ctx, req.Place)
		if err == nil {
			return domain.MapView{Center: p, Zoom: s.settings.LocatedZoom}
		}
		s.logger.Warn("geocode failed, using default view", "place", req.Place, "error", err)
	}
	return s.settings.DefaultView
}

// Create opens a new session.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) *SessionInfo {
	now := s.now()
	e := &sessionEntry{
		id:        uuid.NewString(),
		session:   drawing.NewSession(s.settings.Drawing),
		debouncer: debounce.New(s.settings.Debounce),
		createdAt: now,
		view:      s.MapDefaults(ctx, req),
		updatedAt: now,
	}

	s.mu.Lock()
	s.sessions[e.id] = e
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()

	return s.info(e)
}

// Session returns the drawing session for id.
func (s *SessionService) Session(id string) (*drawing.Session, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	s.touch(e)
	return e.session, nil
}

// Get returns a snapshot of session id.
func (s *SessionService) Get(id string) (*SessionInfo, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return s.info(e), nil
}

// List returns sessions ordered by creation time, and the total count.
func (s *SessionService) List(offset, limit int) ([]SessionInfo, int) {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].createdAt.Equal(entries[j].createdAt) {
			return entries[i].id < entries[j].id
		}
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	total := len(entries)
	if offset >= total {
		return []SessionInfo{}, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	out := make([]SessionInfo, 0, end-offset)
	for _, e := range entries[offset:end] {
		out = append(out, *s.info(e))
	}
	return out, total
}

// Close discards session id and cancels any pending refresh.
func (s *SessionService) Close(id string) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.debouncer.Stop()
	metrics.ActiveSessions.Dec()
	return nil
}

// CloseAll discards every session.
func (s *SessionService) CloseAll() {
	s.mu.Lock()
	entries := s.sessions
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()
	for _, e := range entries {
		e.debouncer.Stop()
		metrics.ActiveSessions.Dec()
	}
}

// ReapIdle closes every session untouched for the idle timeout and returns
// their IDs.
func (s *SessionService) ReapIdle() []string {
	cutoff := s.now().Add(-s.settings.IdleTimeout)

	s.mu.Lock()
	var idle []*sessionEntry
	for id, e := range s.sessions {
		e.mu.Lock()
		stale := !e.updatedAt.After(cutoff)
		e.mu.Unlock()
		if stale {
			idle = append(idle, e)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(idle))
	for _, e := range idle {
		e.debouncer.Stop()
		metrics.ActiveSessions.Dec()
		ids = append(ids, e.id)
	}
	metrics.SessionsReaped.Add(float64(len(idle)))
	return ids
}

// RunReaper calls ReapIdle every interval until ctx is cancelled.
func (s *SessionService) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := s.ReapIdle(); len(ids) > 0 {
				s.logger.Info("closed idle sessions", "count", len(ids))
			}
		}
	}
}

// UpdateViewport records the session's viewport and schedules a debounced
// trail refresh. Rapid pans collapse into a single fetch.
func (s *SessionService) UpdateViewport(id string, bounds domain.Bounds, zoom int) error {
	if err := s.trails.CheckViewport(bounds, zoom); err != nil {
		return err
	}
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	s.setView(e, bounds, zoom)

	e.debouncer.Call(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.settings.RefreshTimeout)
		defer cancel()
		if _, err := s.refresh(ctx, e, bounds, zoom); err != nil {
			s.logger.Warn("viewport refresh failed", "session", id, "error", err)
		}
	})
	return nil
}

// Refresh loads trails for bounds immediately and installs them as the
// session's snap candidates.
func (s *SessionService) Refresh(ctx context.Context, id string, bounds domain.Bounds, zoom int) (*domain.TrailResult, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	s.setView(e, bounds, zoom)
	return s.refresh(ctx, e, bounds, zoom)
}

func (s *SessionService) refresh(ctx context.Context, e *sessionEntry, bounds domain.Bounds, zoom int) (*domain.TrailResult, error) {
	res, err := s.trails.FetchTiles(ctx, bounds, zoom)
	if err != nil {
		return nil, err
	}
	e.session.SetTrails(res.Trails)
	return res, nil
}

// ExportGPX encodes the session's routes.
func (s *SessionService) ExportGPX(ctx context.Context, id string) ([]byte, error) {
	_, span := telemetry.Tracer().Start(ctx, telemetry.SpanExportGPX)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrSessionID, id))

	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	fc := sess.Features()
	span.SetAttributes(attribute.Int(telemetry.AttrFeatureCnt, len(fc.Features)))

	enc := gpxcodec.Encoder{
		SpacingFeet: s.settings.GPXSpacingFeet,
		Start:       s.now().UTC().Truncate(time.Second),
	}
	b, err := enc.Encode(fc)
	if err != nil {
		metrics.GPXTransfers.WithLabelValues("export", "error").Inc()
		return nil, err
	}
	metrics.GPXTransfers.WithLabelValues("export", "ok").Inc()
	return b, nil
}

// ImportGPX adds a GPX file's tracks and routes to the session as one
// undoable change.
func (s *SessionService) ImportGPX(id string, data []byte) ([]string, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	fc, err := gpxcodec.FromGPX(data)
	if err != nil {
		metrics.GPXTransfers.WithLabelValues("import", "error").Inc()
		return nil, err
	}
	ids := sess.Import(fc)
	if len(ids) == 0 {
		metrics.GPXTransfers.WithLabelValues("import", "empty").Inc()
		return nil, gpxcodec.ErrNoFeatures
	}
	metrics.GPXTransfers.WithLabelValues("import", "ok").Inc()
	return ids, nil
}

// Forget is the eviction notice hook: evicted tiles are reloaded on the
// next viewport change.
func (s *SessionService) Forget(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	s.trails.Forget(keys)
	s.logger.Debug("forgot evicted tiles", "count", len(keys))
	return nil
}

func (s *SessionService) entry(id string) (*sessionEntry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (s *SessionService) touch(e *sessionEntry) {
	e.mu.Lock()
	e.updatedAt = s.now()
	e.mu.Unlock()
}

func (s *SessionService) setView(e *sessionEntry, bounds domain.Bounds, zoom int) {
	b := bounds.Bound()
	e.mu.Lock()
	e.bounds = &bounds
	e.view = domain.MapView{
		Center: domain.GeoPoint{Lat: b.Center().Lat(), Lon: b.Center().Lon()},
		Zoom:   zoom,
	}
	e.updatedAt = s.now()
	e.mu.Unlock()
}

func (s *SessionService) info(e *sessionEntry) *SessionInfo {
	undo, redo := e.session.HistoryDepth()
	e.mu.Lock()
	defer e.mu.Unlock()
	return &SessionInfo{
		ID:        e.id,
		Mode:      string(e.session.Mode()),
		Snapping:  e.session.Snapping(),
		Features:  len(e.session.Features().Features),
		Undo:      undo,
		Redo:      redo,
		View:      e.view,
		Bounds:    e.bounds,
		CreatedAt: e.createdAt,
		UpdatedAt: e.updatedAt,
	}
}

// IsNotFound reports whether err means a missing session or feature.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
