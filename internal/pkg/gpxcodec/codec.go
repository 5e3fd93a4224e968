// Package gpxcodec converts drawn GeoJSON routes to GPX tracks and back.
package gpxcodec

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tkrajina/gpxgo/gpx"

	"github.com/samirrijal/trailsketch/internal/pkg/geospatial"
)

// DefaultSpacingFeet is the maximum distance between exported track points.
const DefaultSpacingFeet = 50

// MIMEType is the content type of exported files.
const MIMEType = "application/gpx+xml"

// DefaultMaxPoints caps the track points of one exported document.
const DefaultMaxPoints = 100_000

// ErrNoFeatures is returned when there is nothing to export.
var ErrNoFeatures = errors.New("no features to export")

// ErrTooManyPoints is returned when densifying would exceed the point cap.
var ErrTooManyPoints = errors.New("route too long to export")

// Encoder writes feature collections as GPX 1.1.
type Encoder struct {
	// SpacingFeet caps the gap between consecutive track points; longer
	// segments get linearly interpolated points. Zero disables densifying.
	SpacingFeet float64
	// Start is the synthetic timestamp of the first point. Each following
	// point is one second later.
	Start   time.Time
	Creator string
	// MaxPoints caps the densified points across all tracks. Zero means
	// DefaultMaxPoints.
	MaxPoints int
}

// ToGPX encodes fc with spacingFeet densification, starting timestamps now.
func ToGPX(fc *geojson.FeatureCollection, spacingFeet float64) ([]byte, error) {
	enc := Encoder{
		SpacingFeet: spacingFeet,
		Start:       time.Now().UTC().Truncate(time.Second),
	}
	return enc.Encode(fc)
}

// Encode emits one track per line feature.
func (e Encoder) Encode(fc *geojson.FeatureCollection) ([]byte, error) {
	if fc == nil {
		return nil, ErrNoFeatures
	}

	creator := e.Creator
	if creator == "" {
		creator = "trailsketch"
	}
	doc := &gpx.GPX{Version: "1.1", Creator: creator}

	spacing := e.SpacingFeet * geospatial.FeetToMeters
	maxPoints := e.MaxPoints
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	lines := exportLines(fc)
	total := 0
	for _, fl := range lines {
		for _, ls := range fl.lines {
			total += DensifiedLen(ls, spacing)
			if total > maxPoints {
				return nil, fmt.Errorf("%w: more than %d points", ErrTooManyPoints, maxPoints)
			}
		}
	}

	ts := e.Start
	stamp := func(p orb.Point) gpx.GPXPoint {
		pt := gpx.GPXPoint{
			Point: gpx.Point{
				Latitude:  p.Lat(),
				Longitude: p.Lon(),
				Elevation: *gpx.NewNullableFloat64(0),
			},
			Timestamp: ts,
		}
		ts = ts.Add(time.Second)
		return pt
	}

	for _, fl := range lines {
		trk := gpx.GPXTrack{Name: trackName(fl.feature, fl.index)}
		for _, ls := range fl.lines {
			if len(ls) == 0 {
				continue
			}
			var seg gpx.GPXTrackSegment
			for _, p := range Densify(ls, spacing) {
				seg.Points = append(seg.Points, stamp(p))
			}
			trk.Segments = append(trk.Segments, seg)
		}
		if len(trk.Segments) > 0 {
			doc.Tracks = append(doc.Tracks, trk)
		}
	}

	if len(doc.Tracks) == 0 {
		return nil, ErrNoFeatures
	}

	data, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return nil, fmt.Errorf("encode gpx: %w", err)
	}
	return data, nil
}

type featureLines struct {
	feature *geojson.Feature
	index   int
	lines   []orb.LineString
}

// exportLines picks the line geometries of fc in order.
func exportLines(fc *geojson.FeatureCollection) []featureLines {
	var out []featureLines
	for i, f := range fc.Features {
		if f == nil {
			continue
		}
		switch g := f.Geometry.(type) {
		case orb.LineString:
			out = append(out, featureLines{f, i, []orb.LineString{g}})
		case orb.MultiLineString:
			out = append(out, featureLines{f, i, g})
		}
	}
	return out
}

// DensifiedLen returns len(Densify(ls, spacingMeters)) without allocating.
func DensifiedLen(ls orb.LineString, spacingMeters float64) int {
	if len(ls) < 2 || spacingMeters <= 0 {
		return len(ls)
	}
	n := len(ls)
	for i := 1; i < len(ls); i++ {
		if d := geospatial.Haversine(ls[i-1], ls[i]); d > spacingMeters {
			n += int(math.Ceil(d/spacingMeters)) - 1
		}
	}
	return n
}

// Densify returns ls with interpolated points inserted wherever two consecutive
// vertices are more than spacingMeters apart. Original vertices are kept in order.
func Densify(ls orb.LineString, spacingMeters float64) orb.LineString {
	if len(ls) < 2 || spacingMeters <= 0 {
		return append(orb.LineString(nil), ls...)
	}

	out := orb.LineString{ls[0]}
	for i := 1; i < len(ls); i++ {
		a, b := ls[i-1], ls[i]
		if d := geospatial.Haversine(a, b); d > spacingMeters {
			n := int(math.Ceil(d/spacingMeters)) - 1
			for j := 1; j <= n; j++ {
				frac := float64(j) / float64(n+1)
				out = append(out, orb.Point{
					a[0] + frac*(b[0]-a[0]),
					a[1] + frac*(b[1]-a[1]),
				})
			}
		}
		out = append(out, b)
	}
	return out
}

func trackName(f *geojson.Feature, i int) string {
	if name, ok := f.Properties["name"].(string); ok && name != "" {
		return name
	}
	return fmt.Sprintf("Route %d", i+1)
}

// FromGPX decodes tracks and routes into line features. Waypoints are ignored.
func FromGPX(data []byte) (*geojson.FeatureCollection, error) {
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}

	fc := geojson.NewFeatureCollection()
	for _, trk := range doc.Tracks {
		var lines orb.MultiLineString
		for _, seg := range trk.Segments {
			if ls := toLine(seg.Points); len(ls) >= 2 {
				lines = append(lines, ls)
			}
		}
		switch len(lines) {
		case 0:
			continue
		case 1:
			fc.Append(lineFeature(lines[0], trk.Name, "trk"))
		default:
			fc.Append(lineFeature(lines, trk.Name, "trk"))
		}
	}
	for _, rte := range doc.Routes {
		if ls := toLine(rte.Points); len(ls) >= 2 {
			fc.Append(lineFeature(ls, rte.Name, "rte"))
		}
	}
	return fc, nil
}

func toLine(points []gpx.GPXPoint) orb.LineString {
	ls := make(orb.LineString, 0, len(points))
	for _, p := range points {
		ls = append(ls, orb.Point{p.Longitude, p.Latitude})
	}
	return ls
}

func lineFeature(g orb.Geometry, name, kind string) *geojson.Feature {
	f := geojson.NewFeature(g)
	if name != "" {
		f.Properties["name"] = name
	}
	f.Properties["gpx_type"] = kind
	return f
}
