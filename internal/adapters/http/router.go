package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/trailsketch/internal/pkg/metrics"
)

const requestTimeout = 30 * time.Second

// TileAliasSunset is when the unversioned /api/tiles route goes away.
var TileAliasSunset = time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	if deps.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        deps.RateLimit,
			Expiration: 1 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
			},
		}))
	}

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(DeprecationMiddleware([]DeprecatedRoute{{
		Path:        "/api/tiles/:z/:x/:y",
		SunsetDate:  TileAliasSunset,
		Alternative: "/v1/tiles/:z/:x/:y",
	}}))

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	withTimeout := func(h fiber.Handler) fiber.Handler {
		return timeout.NewWithContext(h, requestTimeout)
	}

	// Backend tile endpoint; the /api path is what browser clients were
	// first built against.
	app.Get("/api/tiles/:z/:x/:y", withTimeout(TileHandler(deps)))

	v1 := app.Group("/v1")
	v1.Get("/tiles/:z/:x/:y", withTimeout(TileHandler(deps)))
	v1.Get("/trails", withTimeout(TrailsHandler(deps)))
	v1.Get("/trails/near", withTimeout(TrailsNearHandler(deps)))
	v1.Get("/map/defaults", withTimeout(MapDefaultsHandler(deps)))
	v1.Post("/gpx/export", ExportGPXHandler(deps))
	v1.Post("/gpx/import", ImportGPXHandler(deps))

	sessions := v1.Group("/sessions")
	sessions.Post("/", withTimeout(CreateSessionHandler(deps)))
	sessions.Get("/", ListSessionsHandler(deps))
	sessions.Get("/:id", GetSessionHandler(deps))
	sessions.Delete("/:id", CloseSessionHandler(deps))
	sessions.Get("/:id/features", SessionFeaturesHandler(deps))
	sessions.Post("/:id/features", AddFeatureHandler(deps))
	sessions.Put("/:id/features/:fid", UpdateFeatureHandler(deps))
	sessions.Delete("/:id/features/:fid", DeleteFeatureHandler(deps))
	sessions.Put("/:id/mode", SetModeHandler(deps))
	sessions.Put("/:id/snapping", SetSnappingHandler(deps))
	sessions.Post("/:id/events", PointerEventsHandler(deps))
	sessions.Post("/:id/undo", UndoHandler(deps))
	sessions.Post("/:id/redo", RedoHandler(deps))
	sessions.Put("/:id/viewport", withTimeout(ViewportHandler(deps)))
	sessions.Get("/:id/snap", SnapHandler(deps))
	sessions.Get("/:id/export.gpx", SessionExportGPXHandler(deps))
	sessions.Post("/:id/import", SessionImportGPXHandler(deps))

	// GraphQL
	app.Post("/graphql", withTimeout(GraphQLHandler(deps)))

	// API documentation (Swagger UI)
	SetupDocs(app, deps.OpenAPIPath)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
