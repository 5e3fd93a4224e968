package http

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/usecases"
	"github.com/samirrijal/trailsketch/internal/pkg/geospatial"
	"github.com/samirrijal/trailsketch/internal/pkg/gpxcodec"
	"github.com/samirrijal/trailsketch/internal/pkg/metrics"
)

const maxGPXBytes = 10 << 20

const (
	defaultNearRadius = 2000
	maxNearRadius     = 20000
)

// TileHandler serves one tile's trails and trailheads as GeoJSON strings.
func TileHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Tiles == nil {
			return errUnavailable(c, "tile service not enabled")
		}
		key, err := parseTileParams(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		payload, err := deps.Tiles.GetTile(c.UserContext(), key)
		switch {
		case errors.Is(err, usecases.ErrInvalidTile):
			return errBadRequest(c, err.Error())
		case err != nil:
			LoggerFromCtx(c.UserContext()).Warn("tile unavailable", "tile", key.String(), "error", err)
			return errUpstream(c, "tile source unavailable")
		}
		return c.JSON(payload)
	}
}

// TrailsHandler returns trails and trailheads for a viewport through the
// tile cache. bbox is south,west,north,east.
func TrailsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bounds, err := parseBBox(c.Query("bbox"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		zoom := c.QueryInt("zoom", deps.Trails.TileZoom())
		if zoom < 0 || zoom > 22 {
			return errBadRequest(c, "zoom must be between 0 and 22")
		}

		res, err := deps.Trails.FetchTiles(c.UserContext(), bounds, zoom)
		if errors.Is(err, usecases.ErrInvalidBounds) {
			return errBadRequest(c, err.Error())
		}
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(res)
	}
}

// TrailsNearHandler returns trails within radius meters of lat/lon.
func TrailsNearHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := parsePoint(c.Query("lat"), c.Query("lon"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		radius := c.QueryFloat("radius", defaultNearRadius)
		if radius <= 0 || radius > maxNearRadius {
			return errBadRequest(c, fmt.Sprintf("radius must be between 0 and %d meters", maxNearRadius))
		}

		south, west, north, east := geospatial.BoundingBox(p.Lat, p.Lon, radius)
		bounds := clampBounds(domain.Bounds{South: south, West: west, North: north, East: east})
		res, err := deps.Trails.FetchTiles(c.UserContext(), bounds, deps.Trails.TileZoom())
		if errors.Is(err, usecases.ErrInvalidBounds) {
			return errBadRequest(c, err.Error())
		}
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.JSON(res)
	}
}

// clampBounds trims a box to WGS 84. Boxes crossing the antimeridian are cut
// at it rather than wrapped.
func clampBounds(b domain.Bounds) domain.Bounds {
	b.South = math.Max(b.South, -90)
	b.North = math.Min(b.North, 90)
	b.West = math.Max(b.West, -180)
	b.East = math.Min(b.East, 180)
	return b
}

// MapDefaultsHandler returns the initial map view. lat/lon or place position
// it; otherwise the configured default center is used.
func MapDefaultsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := parseLocation(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		return c.JSON(deps.Sessions.MapDefaults(c.UserContext(), req))
	}
}

// ExportGPXHandler converts a posted GeoJSON FeatureCollection to GPX.
func ExportGPXHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fc, err := geojson.UnmarshalFeatureCollection(c.Body())
		if err != nil {
			return errBadRequest(c, "body must be a GeoJSON FeatureCollection")
		}

		data, err := gpxcodec.ToGPX(fc, deps.gpxSpacing())
		if errors.Is(err, gpxcodec.ErrNoFeatures) {
			metrics.GPXTransfers.WithLabelValues("export", "empty").Inc()
			return errUnprocessable(c, "No features to export")
		}
		if errors.Is(err, gpxcodec.ErrTooManyPoints) {
			metrics.GPXTransfers.WithLabelValues("export", "too_large").Inc()
			return errUnprocessable(c, err.Error())
		}
		if err != nil {
			metrics.GPXTransfers.WithLabelValues("export", "error").Inc()
			return errInternal(c, err.Error())
		}
		metrics.GPXTransfers.WithLabelValues("export", "ok").Inc()
		return sendGPX(c, "route.gpx", data)
	}
}

// ImportGPXHandler converts a posted GPX document to GeoJSON.
func ImportGPXHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := c.Body()
		if len(body) == 0 || len(body) > maxGPXBytes {
			return errBadRequest(c, "body must be a GPX document up to 10 MiB")
		}
		fc, err := gpxcodec.FromGPX(body)
		if err != nil {
			metrics.GPXTransfers.WithLabelValues("import", "error").Inc()
			return errBadRequest(c, "invalid GPX: "+err.Error())
		}
		metrics.GPXTransfers.WithLabelValues("import", "ok").Inc()
		return c.JSON(fc)
	}
}

func (d *Dependencies) gpxSpacing() float64 {
	if d.GPXSpacingFeet > 0 {
		return d.GPXSpacingFeet
	}
	return gpxcodec.DefaultSpacingFeet
}

func sendGPX(c *fiber.Ctx, filename string, data []byte) error {
	c.Set(fiber.HeaderContentType, gpxcodec.MIMEType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(data)
}

func parseTileParams(c *fiber.Ctx) (domain.TileKey, error) {
	var nums [3]int
	for i, name := range []string{"z", "x", "y"} {
		n, err := strconv.Atoi(c.Params(name))
		if err != nil {
			return domain.TileKey{}, fmt.Errorf("%s must be an integer", name)
		}
		nums[i] = n
	}
	return domain.TileKey{Zoom: nums[0], X: nums[1], Y: nums[2]}, nil
}

// parseBBox parses "south,west,north,east".
func parseBBox(s string) (domain.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.Bounds{}, errors.New("bbox must be south,west,north,east")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.Bounds{}, fmt.Errorf("bbox: %q is not a number", p)
		}
		v[i] = f
	}
	b := domain.Bounds{South: v[0], West: v[1], North: v[2], East: v[3]}
	if !b.Valid() {
		return domain.Bounds{}, usecases.ErrInvalidBounds
	}
	return b, nil
}

func parseLocation(c *fiber.Ctx) (usecases.CreateSessionRequest, error) {
	req := usecases.CreateSessionRequest{Place: strings.TrimSpace(c.Query("place"))}
	lat, lon := c.Query("lat"), c.Query("lon")
	if lat == "" && lon == "" {
		return req, nil
	}
	p, err := parsePoint(lat, lon)
	if err != nil {
		return req, err
	}
	req.Center = &p
	return req, nil
}

func parsePoint(lat, lon string) (domain.GeoPoint, error) {
	la, err1 := strconv.ParseFloat(lat, 64)
	lo, err2 := strconv.ParseFloat(lon, 64)
	if err1 != nil || err2 != nil {
		return domain.GeoPoint{}, errors.New("lat and lon must both be numbers")
	}
	p := domain.GeoPoint{Lat: la, Lon: lo}
	return p, checkPoint(p)
}

func checkPoint(p domain.GeoPoint) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return errors.New("lat/lon out of range")
	}
	return nil
}
