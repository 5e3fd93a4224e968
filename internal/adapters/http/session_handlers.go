package http

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/drawing"
	"github.com/samirrijal/trailsketch/internal/core/usecases"
	"github.com/samirrijal/trailsketch/internal/pkg/gpxcodec"
)

// sessionState is returned by endpoints that change a session.
type sessionState struct {
	Session *usecases.SessionInfo `json:"session"`
	Preview orb.LineString        `json:"preview,omitempty"`
	Applied *bool                 `json:"applied,omitempty"`
}

func stateOf(deps *Dependencies, c *fiber.Ctx, sess *drawing.Session) error {
	info, err := deps.Sessions.Get(c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(sessionState{Session: info, Preview: sess.Preview()})
}

// sessionError maps use-case errors to responses.
func sessionError(c *fiber.Ctx, err error) error {
	switch {
	case usecases.IsNotFound(err):
		return errNotFound(c, err.Error())
	case errors.Is(err, usecases.ErrInvalidBounds):
		return errBadRequest(c, err.Error())
	case errors.Is(err, gpxcodec.ErrNoFeatures):
		return errUnprocessable(c, "No features to export")
	case errors.Is(err, gpxcodec.ErrTooManyPoints):
		return errUnprocessable(c, err.Error())
	default:
		return errInternal(c, err.Error())
	}
}

// CreateSessionHandler opens a drawing session. The optional body positions
// the map: {"center":{"lat":..,"lon":..}} or {"place":"Boulder, CO"}.
func CreateSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req usecases.CreateSessionRequest
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return errBadRequest(c, "invalid JSON body")
			}
		}
		if req.Center != nil {
			if err := checkPoint(*req.Center); err != nil {
				return errBadRequest(c, err.Error())
			}
		}

		info := deps.Sessions.Create(c.UserContext(), req)
		c.Location("/v1/sessions/" + info.ID)
		return c.Status(fiber.StatusCreated).JSON(info)
	}
}

// ListSessionsHandler lists open sessions, oldest first.
func ListSessionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		pg := parsePagination(c)
		sessions, total := deps.Sessions.List(pg.Offset, pg.Limit)
		pg.Total = total

		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: sessions, Pagination: pg})
	}
}

func GetSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		info, err := deps.Sessions.Get(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		return c.JSON(info)
	}
}

func CloseSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Sessions.Close(c.Params("id")); err != nil {
			return sessionError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// SessionFeaturesHandler returns the drawn routes as a FeatureCollection.
func SessionFeaturesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Sessions.Session(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		return c.JSON(sess.Features())
	}
}

// AddFeatureHandler adds a line feature as one undoable change.
func AddFeatureHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Sessions.Session(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		f, err := geojson.UnmarshalFeature(c.Body())
		if err != nil || !isLine(f.Geometry) {
			return errBadRequest(c, "body must be a GeoJSON LineString or MultiLineString feature")
		}

		id := sess.Add(f)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
	}
}

// UpdateFeatureHandler replaces a feature's geometry.
func UpdateFeatureHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Sessions.Session(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		var g geojson.Geometry
		if err := json.Unmarshal(c.Body(), &g); err != nil || !isLine(g.Geometry()) {
			return errBadRequest(c, "body must be a GeoJSON LineString or MultiLineString geometry")
		}
		if err := sess.Update(c.Params("fid"), g.Geometry()); err != nil {
			return sessionError(c, err)
		}
		return stateOf(deps, c, sess)
	}
}

func DeleteFeatureHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Sessions.Session(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		if err := sess.Delete(c.Params("fid")); err != nil {
			return sessionError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// SetModeHandler switches the drawing mode. Any line in progress is
// finished or discarded by the old mode.
func SetModeHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Sessions.Session(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		var body struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		if err := sess.SetMode(drawing.ModeName(body.Mode)); err != nil {
			return errBadRequest(c, err.Error())
		}
		return stateOf(deps, c, sess)
	}
}

func SetSnappingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Sessions.Session(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil || body.Enabled == nil {
			return errBadRequest(c, `body must be {"enabled": true|false}`)
		}
		sess.SetSnapping(*body.Enabled)
		return stateOf(deps, c, sess)
	}
}

// PointerEventsHandler feeds a batch of pointer events to the active mode,
// in order.
func PointerEventsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Sessions.Session(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		var body struct {
			Events []drawing.PointerEvent `json:"events"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		for _, ev := range body.Events {
			switch ev.Kind {
			case drawing.PointerDown, drawing.PointerMove, drawing.PointerUp, drawing.Click, drawing.DoubleClick:
			default:
				return errBadRequest(c, "unknown event kind: "+string(ev.Kind))
			}
		}
		for _, ev := range body.Events {
			sess.Handle(ev)
		}
		return stateOf(deps, c, sess)
	}
}

// UndoHandler and RedoHandler report applied=false when the stack has
// nothing to step to.
func UndoHandler(deps *Dependencies) fiber.Handler {
	return historyHandler(deps, (*drawing.Session).Undo)
}

func RedoHandler(deps *Dependencies) fiber.Handler {
	return historyHandler(deps, (*drawing.Session).Redo)
}

func historyHandler(deps *Dependencies, step func(*drawing.Session) bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Sessions.Session(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		applied := step(sess)
		info, err := deps.Sessions.Get(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		return c.JSON(sessionState{Session: info, Applied: &applied})
	}
}

// ViewportHandler records the visible map area. By default the trail
// refresh is debounced and the handler answers 202; with "sync": true it
// loads immediately and returns the trails.
func ViewportHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body struct {
			Bounds domain.Bounds `json:"bounds"`
			Zoom   int           `json:"zoom"`
			Sync   bool          `json:"sync"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		id := c.Params("id")

		if body.Sync {
			if !body.Bounds.Valid() {
				return errBadRequest(c, usecases.ErrInvalidBounds.Error())
			}
			res, err := deps.Sessions.Refresh(c.UserContext(), id, body.Bounds, body.Zoom)
			if err != nil {
				return sessionError(c, err)
			}
			return c.JSON(res)
		}

		if err := deps.Sessions.UpdateViewport(id, body.Bounds, body.Zoom); err != nil {
			return sessionError(c, err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}

// SnapHandler snaps lat/lon against the session's loaded trails.
func SnapHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Sessions.Session(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		p, err := parsePoint(c.Query("lat"), c.Query("lon"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		in := p.Point()
		out := sess.Snap(in)
		return c.JSON(fiber.Map{
			"point":   domain.GeoPoint{Lat: out.Lat(), Lon: out.Lon()},
			"snapped": !out.Equal(in),
		})
	}
}

func SessionExportGPXHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		data, err := deps.Sessions.ExportGPX(c.UserContext(), c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		return sendGPX(c, "route.gpx", data)
	}
}

func SessionImportGPXHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := c.Body()
		if len(body) == 0 || len(body) > maxGPXBytes {
			return errBadRequest(c, "body must be a GPX document up to 10 MiB")
		}
		ids, err := deps.Sessions.ImportGPX(c.Params("id"), body)
		switch {
		case errors.Is(err, gpxcodec.ErrNoFeatures):
			return errUnprocessable(c, "GPX contains no tracks or routes")
		case usecases.IsNotFound(err):
			return errNotFound(c, err.Error())
		case err != nil:
			return errBadRequest(c, "invalid GPX: "+err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ids": ids})
	}
}

func isLine(g orb.Geometry) bool {
	switch g.(type) {
	case orb.LineString, orb.MultiLineString:
		return true
	}
	return false
}
