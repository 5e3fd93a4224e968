package telemetry

// Span names used for instrumentation.
const (
	// Tile cache
	SpanFetchTiles = "trails.fetch_tiles"
	SpanFetchTile  = "trails.fetch_tile"
	SpanEvict      = "trails.evict"

	// Tile server
	SpanGetTile  = "tiles.get_tile"
	SpanOverpass = "overpass.query"

	// Drawing
	SpanExportGPX = "gpx.export"
)

// Span attribute keys.
const (
	AttrTileKey    = "tile.key"
	AttrTileCount  = "tile.count"
	AttrTileTier   = "tile.tier"
	AttrViewZoom   = "view.zoom"
	AttrSessionID  = "session.id"
	AttrFeatureCnt = "feature.count"
)
