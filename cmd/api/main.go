package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/trailsketch/internal/adapters/http"
	natsadapter "github.com/samirrijal/trailsketch/internal/adapters/nats"
	"github.com/samirrijal/trailsketch/internal/adapters/nominatim"
	overpassadapter "github.com/samirrijal/trailsketch/internal/adapters/overpass"
	"github.com/samirrijal/trailsketch/internal/adapters/postgres"
	"github.com/samirrijal/trailsketch/internal/adapters/sqlite"
	"github.com/samirrijal/trailsketch/internal/adapters/tileapi"
	"github.com/samirrijal/trailsketch/internal/adapters/valkey"
	"github.com/samirrijal/trailsketch/internal/core/domain"
	"github.com/samirrijal/trailsketch/internal/core/drawing"
	"github.com/samirrijal/trailsketch/internal/core/ports"
	"github.com/samirrijal/trailsketch/internal/core/usecases"
	"github.com/samirrijal/trailsketch/internal/pkg/config"
	"github.com/samirrijal/trailsketch/internal/pkg/geospatial"
	"github.com/samirrijal/trailsketch/internal/pkg/logging"
	"github.com/samirrijal/trailsketch/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("trailsketch-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	deps := &http.Dependencies{
		RateLimit:      cfg.Server.RateLimit,
		GPXSpacingFeet: cfg.Drawing.GPXSpacingFeet,
	}

	// Cache
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
		cache = nil
	} else {
		defer cache.Close()
		deps.Cache = cache
	}

	// Persisted tile tier
	var store ports.TileStore
	switch cfg.Trails.Store {
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.Trails.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer s.Close()
		store, deps.Store = s, s
	case config.StorePostgres:
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		go db.ReportPoolMetrics(ctx, 15*time.Second)
		store, deps.DB = postgres.NewTileRepo(db), db
	case config.StoreValkey:
		if cache == nil {
			log.Fatalf("trails.store=valkey but valkey is unavailable")
		}
		store = cache.Tiles(cfg.Trails.EvictionHorizon())
	default:
		slog.Info("tile store disabled, using memory and network only")
	}

	// NATS
	trailOpts := []usecases.TrailOption{
		usecases.WithTileZoom(cfg.Trails.TileZoom),
		usecases.WithMinViewportZoom(cfg.Trails.MinViewportZoom),
		usecases.WithExpiry(cfg.Trails.Expiry()),
		usecases.WithEvictionHorizon(cfg.Trails.EvictionHorizon()),
		usecases.WithMaxConcurrent(cfg.Trails.MaxConcurrentFetches),
		usecases.WithMaxTilesPerCall(cfg.Trails.MaxTilesPerCall),
		usecases.WithLogger(logging.Component("trails")),
	}
	if store != nil {
		trailOpts = append(trailOpts, usecases.WithTileStore(store))
	}
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		trailOpts = append(trailOpts, usecases.WithEventPublisher(pub))
	}

	// Raw NATS connection for the WebSocket relay and eviction notices
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	} else {
		deps.NATS = natsConn
	}

	// Upstream sources. The browser-facing cache reads the tile API when one
	// is configured; the tile endpoint always goes to Overpass.
	httpClient := &nethttp.Client{Timeout: cfg.Trails.FetchTimeout()}
	overpassFetcher := overpassadapter.New(cfg.Trails.OverpassURL, cfg.Trails.OverpassParallel, httpClient)
	var fetcher ports.TileFetcher = overpassFetcher
	if cfg.Trails.APIBase != "" {
		fetcher = tileapi.New(cfg.Trails.APIBase, cfg.Trails.FetchTimeout())
		slog.Info("using tile API", "base", cfg.Trails.APIBase)
	}

	// Use cases
	trails := usecases.NewTrailService(fetcher, trailOpts...)

	var tileCache ports.CacheService
	if cache != nil {
		tileCache = cache
	}
	tiles := usecases.NewTileService(overpassFetcher, store, tileCache)
	tiles.SetExpiry(cfg.Trails.Expiry())

	sessions := usecases.NewSessionService(trails, nominatim.New(cfg.Map.NominatimURL), usecases.SessionSettings{
		Drawing: drawing.Config{
			SpacingMeters:           cfg.Drawing.SpacingFeet * geospatial.FeetToMeters,
			SnapThresholdMeters:     cfg.Drawing.SnapThresholdMeters,
			EndpointThresholdMeters: cfg.Drawing.EndpointThresholdMeters,
			HistoryDepth:            cfg.Drawing.HistoryDepth,
		},
		DefaultView: domain.MapView{
			Center: domain.GeoPoint{Lat: cfg.Map.CenterLat, Lon: cfg.Map.CenterLon},
			Zoom:   cfg.Map.DefaultZoom,
		},
		LocatedZoom:    cfg.Map.LocatedZoom,
		Debounce:       cfg.Trails.Debounce(),
		RefreshTimeout: cfg.Trails.FetchTimeout(),
		GPXSpacingFeet: cfg.Drawing.GPXSpacingFeet,
		IdleTimeout:    cfg.Sessions.IdleTimeout(),
	})
	defer sessions.CloseAll()

	deps.Trails = trails
	deps.Tiles = tiles
	deps.Sessions = sessions

	// Evictions from other instances or the evictor worker
	if natsConn != nil {
		sub := natsadapter.NewSubscriberFromConn(natsConn)
		err := sub.SubscribeTilesEvicted(ctx, func(ctx context.Context, keys []string) error {
			tiles.Invalidate(ctx, keys)
			return sessions.Forget(ctx, keys)
		})
		if err != nil {
			slog.Warn("eviction subscription failed", "error", err)
		}
		defer sub.Close()
	}

	go trails.RunEviction(ctx, cfg.Trails.EvictionInterval())
	go sessions.RunReaper(ctx, cfg.Sessions.ReapInterval())

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    11 * 1024 * 1024, // GPX uploads up to 10 MiB
		AppName:      "TrailSketch API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Location, Link, Content-Disposition",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "store", cfg.Trails.Store)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())
	cancel()

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
