package geospatial

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	earthRadiusMeters = 6371000.0

	// FeetToMeters converts feet to meters.
	FeetToMeters = 0.3048
)

// Haversine calculates the great-circle distance in meters between two (lon, lat) points.
func Haversine(a, b orb.Point) float64 {
	lat1, lon1 := a.Lat(), a.Lon()
	lat2, lon2 := b.Lat(), b.Lon()

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// LineLength sums the haversine distance along a line.
func LineLength(ls orb.LineString) float64 {
	var total float64
	for i := 1; i < len(ls); i++ {
		total += Haversine(ls[i-1], ls[i])
	}
	return total
}

// BoundingBox returns a bounding box around a point with the given radius in meters.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	latDelta := radiusMeters / 111320.0
	lonDelta := radiusMeters / (111320.0 * math.Cos(toRad(lat)))

	return lat - latDelta, lon - lonDelta, lat + latDelta, lon + lonDelta
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
