package geospatial

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

// MaxMercatorLat is the latitude limit of the Web Mercator projection.
const MaxMercatorLat = 85.0511287798066

// LonToTileX returns the slippy-map tile column containing lon at zoom.
func LonToTileX(lon float64, zoom int) int {
	n := math.Exp2(float64(zoom))
	x := int(math.Floor((lon + 180) / 360 * n))
	return clampTile(x, zoom)
}

// LatToTileY returns the slippy-map tile row containing lat at zoom.
func LatToTileY(lat float64, zoom int) int {
	lat = math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, lat))
	n := math.Exp2(float64(zoom))
	rad := toRad(lat)
	y := int(math.Floor((1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * n))
	return clampTile(y, zoom)
}

// TileToBounds returns the (south, west, north, east) extent of a tile.
func TileToBounds(x, y, zoom int) domain.Bounds {
	n := math.Exp2(float64(zoom))
	west := float64(x)/n*360 - 180
	east := float64(x+1)/n*360 - 180
	north := math.Atan(math.Sinh(math.Pi*(1-2*float64(y)/n))) * 180 / math.Pi
	south := math.Atan(math.Sinh(math.Pi*(1-2*float64(y+1)/n))) * 180 / math.Pi
	return domain.Bounds{South: south, West: west, North: north, East: east}
}

// TileAt returns the key of the tile containing p.
func TileAt(p orb.Point, zoom int) domain.TileKey {
	return domain.TileKey{Zoom: zoom, X: LonToTileX(p.Lon(), zoom), Y: LatToTileY(p.Lat(), zoom)}
}

// TileCount returns how many tiles TilesCovering(b, zoom) would return.
func TileCount(b domain.Bounds, zoom int) int {
	cols := LonToTileX(b.East, zoom) - LonToTileX(b.West, zoom) + 1
	rows := LatToTileY(b.South, zoom) - LatToTileY(b.North, zoom) + 1
	if cols <= 0 || rows <= 0 {
		return 0
	}
	return cols * rows
}

// TilesCovering returns the rectangular set of tiles covering b, row by row.
func TilesCovering(b domain.Bounds, zoom int) []domain.TileKey {
	xMin, xMax := LonToTileX(b.West, zoom), LonToTileX(b.East, zoom)
	yMin, yMax := LatToTileY(b.North, zoom), LatToTileY(b.South, zoom)

	keys := make([]domain.TileKey, 0, (xMax-xMin+1)*(yMax-yMin+1))
	for x := xMin; x <= xMax; x++ {
		for y := yMin; y <= yMax; y++ {
			keys = append(keys, domain.TileKey{Zoom: zoom, X: x, Y: y})
		}
	}
	return keys
}

func clampTile(v, zoom int) int {
	maxIdx := (1 << zoom) - 1
	if v < 0 {
		return 0
	}
	if v > maxIdx {
		return maxIdx
	}
	return v
}
