package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Tile store backends for the persisted tier.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreValkey   = "valkey"
	StorePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Log       LogConfig       `mapstructure:"log"`
	Trails    TrailsConfig    `mapstructure:"trails"`
	Drawing   DrawingConfig   `mapstructure:"drawing"`
	Map       MapConfig       `mapstructure:"map"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	RateLimit    int `mapstructure:"rate_limit"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
	// EvictionCron is the cron schedule of the eviction workflow.
	EvictionCron string `mapstructure:"eviction_cron"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrailsConfig tunes the trail tile cache.
type TrailsConfig struct {
	// APIBase is the backend tile API. Empty means query Overpass directly.
	APIBase                 string `mapstructure:"api_base"`
	OverpassURL             string `mapstructure:"overpass_url"`
	OverpassParallel        int    `mapstructure:"overpass_parallel"`
	Store                   string `mapstructure:"store"`
	SQLitePath              string `mapstructure:"sqlite_path"`
	TileZoom                int    `mapstructure:"tile_zoom"`
	MinViewportZoom         int    `mapstructure:"min_viewport_zoom"`
	ExpiryHours             int    `mapstructure:"expiry_hours"`
	EvictionHours           int    `mapstructure:"eviction_hours"`
	EvictionIntervalMinutes int    `mapstructure:"eviction_interval_minutes"`
	MaxConcurrentFetches    int    `mapstructure:"max_concurrent_fetches"`
	MaxTilesPerCall         int    `mapstructure:"max_tiles_per_call"`
	DebounceMillis          int    `mapstructure:"debounce_millis"`
	FetchTimeoutSeconds     int    `mapstructure:"fetch_timeout_seconds"`
}

func (t TrailsConfig) Expiry() time.Duration {
	return time.Duration(t.ExpiryHours) * time.Hour
}

func (t TrailsConfig) EvictionHorizon() time.Duration {
	return time.Duration(t.EvictionHours) * time.Hour
}

func (t TrailsConfig) EvictionInterval() time.Duration {
	return time.Duration(t.EvictionIntervalMinutes) * time.Minute
}

func (t TrailsConfig) Debounce() time.Duration {
	return time.Duration(t.DebounceMillis) * time.Millisecond
}

func (t TrailsConfig) FetchTimeout() time.Duration {
	return time.Duration(t.FetchTimeoutSeconds) * time.Second
}

// DrawingConfig tunes sampling, snapping and history.
type DrawingConfig struct {
	SpacingFeet             float64 `mapstructure:"spacing_feet"`
	SnapThresholdMeters     float64 `mapstructure:"snap_threshold_meters"`
	EndpointThresholdMeters float64 `mapstructure:"endpoint_threshold_meters"`
	HistoryDepth            int     `mapstructure:"history_depth"`
	GPXSpacingFeet          float64 `mapstructure:"gpx_spacing_feet"`
}

// SessionsConfig bounds the lifetime of drawing sessions. A session untouched
// for IdleTimeout is closed by the reaper.
type SessionsConfig struct {
	IdleTimeoutMinutes  int `mapstructure:"idle_timeout_minutes"`
	ReapIntervalMinutes int `mapstructure:"reap_interval_minutes"`
}

func (s SessionsConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}

func (s SessionsConfig) ReapInterval() time.Duration {
	return time.Duration(s.ReapIntervalMinutes) * time.Minute
}

// MapConfig holds the initial view used when no location is known.
type MapConfig struct {
	CenterLat    float64 `mapstructure:"center_lat"`
	CenterLon    float64 `mapstructure:"center_lon"`
	DefaultZoom  int     `mapstructure:"default_zoom"`
	LocatedZoom  int     `mapstructure:"located_zoom"`
	NominatimURL string  `mapstructure:"nominatim_url"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: TRAILSKETCH_TRAILS_API_BASE → trails.api_base
	v.SetEnvPrefix("TRAILSKETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "trailsketch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "trailsketch")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "trail-tiles")
	v.SetDefault("temporal.eviction_cron", "0 * * * *")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("trails.api_base", "")
	v.SetDefault("trails.overpass_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("trails.overpass_parallel", 2)
	v.SetDefault("trails.store", StoreSQLite)
	v.SetDefault("trails.sqlite_path", "trailsketch.db")
	v.SetDefault("trails.tile_zoom", 12)
	v.SetDefault("trails.min_viewport_zoom", 10)
	v.SetDefault("trails.expiry_hours", 24)
	v.SetDefault("trails.eviction_hours", 7*24)
	v.SetDefault("trails.eviction_interval_minutes", 60)
	v.SetDefault("trails.max_concurrent_fetches", 4)
	v.SetDefault("trails.max_tiles_per_call", 1024)
	v.SetDefault("trails.debounce_millis", 300)
	v.SetDefault("trails.fetch_timeout_seconds", 30)

	v.SetDefault("drawing.spacing_feet", 25)
	v.SetDefault("drawing.snap_threshold_meters", 20)
	v.SetDefault("drawing.endpoint_threshold_meters", 20)
	v.SetDefault("drawing.history_depth", 50)
	v.SetDefault("drawing.gpx_spacing_feet", 50)

	v.SetDefault("sessions.idle_timeout_minutes", 120)
	v.SetDefault("sessions.reap_interval_minutes", 5)

	v.SetDefault("map.center_lat", 39.8283)
	v.SetDefault("map.center_lon", -98.5795)
	v.SetDefault("map.default_zoom", 12)
	v.SetDefault("map.located_zoom", 13)
	v.SetDefault("map.nominatim_url", "https://nominatim.openstreetmap.org")
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}

	switch c.Trails.Store {
	case StoreMemory, StoreSQLite, StoreValkey, StorePostgres:
	default:
		errs = append(errs, fmt.Sprintf("trails.store must be memory, sqlite, valkey or postgres, got %q", c.Trails.Store))
	}
	if c.Trails.Store == StoreSQLite && c.Trails.SQLitePath == "" {
		errs = append(errs, "trails.sqlite_path is required for the sqlite store")
	}
	if c.Trails.APIBase == "" && c.Trails.OverpassURL == "" {
		errs = append(errs, "one of trails.api_base or trails.overpass_url is required")
	}
	if c.Trails.TileZoom < 0 || c.Trails.TileZoom > 22 {
		errs = append(errs, fmt.Sprintf("trails.tile_zoom must be 0-22, got %d", c.Trails.TileZoom))
	}
	if c.Trails.ExpiryHours <= 0 {
		errs = append(errs, "trails.expiry_hours must be positive")
	}
	if c.Trails.EvictionHours < c.Trails.ExpiryHours {
		errs = append(errs, "trails.eviction_hours must be at least trails.expiry_hours")
	}
	if c.Trails.EvictionIntervalMinutes <= 0 {
		errs = append(errs, "trails.eviction_interval_minutes must be positive")
	}
	if c.Trails.MaxConcurrentFetches <= 0 {
		errs = append(errs, "trails.max_concurrent_fetches must be positive")
	}
	if c.Trails.MaxTilesPerCall <= 0 {
		errs = append(errs, "trails.max_tiles_per_call must be positive")
	}
	if c.Trails.DebounceMillis < 0 {
		errs = append(errs, "trails.debounce_millis must not be negative")
	}
	if c.Trails.FetchTimeoutSeconds <= 0 {
		errs = append(errs, "trails.fetch_timeout_seconds must be positive")
	}

	if c.Drawing.SpacingFeet <= 0 || c.Drawing.GPXSpacingFeet <= 0 {
		errs = append(errs, "drawing spacings must be positive")
	}
	if c.Drawing.HistoryDepth < 2 {
		errs = append(errs, "drawing.history_depth must be at least 2")
	}

	if c.Sessions.IdleTimeoutMinutes <= 0 || c.Sessions.ReapIntervalMinutes <= 0 {
		errs = append(errs, "sessions.idle_timeout_minutes and sessions.reap_interval_minutes must be positive")
	}

	if c.Map.CenterLat < -90 || c.Map.CenterLat > 90 || c.Map.CenterLon < -180 || c.Map.CenterLon > 180 {
		errs = append(errs, fmt.Sprintf("map center (%g, %g) out of range", c.Map.CenterLat, c.Map.CenterLon))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
