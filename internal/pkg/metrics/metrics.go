package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailsketch",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trailsketch",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trailsketch",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Tile cache metrics
	TileCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailsketch",
		Subsystem: "tiles",
		Name:      "cache_hits_total",
		Help:      "Tiles satisfied without network access, by tier",
	}, []string{"tier"})

	TileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trailsketch",
		Subsystem: "tiles",
		Name:      "cache_misses_total",
		Help:      "Tiles that required a network fetch",
	})

	TileFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailsketch",
		Subsystem: "tiles",
		Name:      "fetches_total",
		Help:      "Total tile fetches by source and outcome",
	}, []string{"source", "status"})

	TileFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trailsketch",
		Subsystem: "tiles",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of a single tile fetch",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"})

	TilesEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailsketch",
		Subsystem: "tiles",
		Name:      "evicted_total",
		Help:      "Total tile entries evicted, by tier",
	}, []string{"tier"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailsketch",
		Subsystem: "tiles",
		Name:      "store_errors_total",
		Help:      "Persisted tile store failures",
	}, []string{"operation"})

	// Drawing metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trailsketch",
		Subsystem: "drawing",
		Name:      "active_sessions",
		Help:      "Current number of open drawing sessions",
	})

	SessionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trailsketch",
		Subsystem: "drawing",
		Name:      "sessions_reaped_total",
		Help:      "Drawing sessions closed after sitting idle",
	})

	GPXTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailsketch",
		Subsystem: "gpx",
		Name:      "transfers_total",
		Help:      "GPX exports and imports",
	}, []string{"direction", "status"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trailsketch",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailsketch",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total response cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trailsketch",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total response cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trailsketch",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trailsketch",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trailsketch",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool gauges from a pgxpool.Stat.
// It takes an interface so this package does not import pgxpool.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
