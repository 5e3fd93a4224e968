package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Subscriber implements ports.EventSubscriber on core NATS. Each instance
// gets its own copy of every message.
type Subscriber struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// NewSubscriber connects to NATS.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Subscriber{conn: conn}, nil
}

// NewSubscriberFromConn shares an existing connection.
func NewSubscriberFromConn(conn *nats.Conn) *Subscriber {
	return &Subscriber{conn: conn}
}

func (s *Subscriber) SubscribeTilesEvicted(ctx context.Context, handler func(ctx context.Context, keys []string) error) error {
	sub, err := s.conn.Subscribe(SubjectTilesEvicted, func(msg *nats.Msg) {
		var notice EvictionNotice
		if err := json.Unmarshal(msg.Data, &notice); err != nil {
			slog.Warn("bad eviction notice", "error", err)
			return
		}
		if err := handler(ctx, notice.TileKeys); err != nil {
			slog.Warn("eviction handler failed", "count", len(notice.TileKeys), "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
