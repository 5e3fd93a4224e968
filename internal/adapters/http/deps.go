package http

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/trailsketch/internal/core/usecases"
)

// Pinger is a dependency that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Trails   *usecases.TrailService
	Tiles    *usecases.TileService // nil when this instance does not serve tiles
	Sessions *usecases.SessionService
	NATS     *nats.Conn
	DB       Pinger
	Cache    Pinger
	// Store is the persisted tile tier when it is not DB or Cache (sqlite).
	Store Pinger

	GPXSpacingFeet float64
	RateLimit      int    // requests per minute per IP; zero disables
	OpenAPIPath    string // defaults to api/openapi.yaml
}
