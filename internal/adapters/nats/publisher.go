package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

// Subjects carrying tile lifecycle events.
const (
	SubjectTileLoaded   = "trails.tile.loaded"
	SubjectTilesEvicted = "trails.tile.evicted"
	SubjectAll          = "trails.>"
)

// EvictionNotice is the payload on SubjectTilesEvicted.
type EvictionNotice struct {
	TileKeys  []string  `json:"tile_keys"`
	EvictedAt time.Time `json:"evicted_at"`
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Loaded events are kept for late joiners; evictions are fire-and-forget.
	cfg := nats.StreamConfig{
		Name:      "TRAIL_TILES",
		Subjects:  []string{SubjectTileLoaded},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

func (p *Publisher) PublishTileLoaded(ctx context.Context, event *domain.TileEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectTileLoaded, data, nats.Context(ctx))
	return err
}

// PublishTilesEvicted uses core NATS so every running instance sees it.
func (p *Publisher) PublishTilesEvicted(ctx context.Context, keys []string) error {
	data, err := json.Marshal(EvictionNotice{TileKeys: keys, EvictedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return p.conn.Publish(SubjectTilesEvicted, data)
}

// Conn exposes the underlying connection for readiness checks and relays.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
