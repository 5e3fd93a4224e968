package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/samirrijal/trailsketch/internal/core/domain"
)

const (
	tileKeyPrefix = "trails:tile:"
	tileIndexKey  = "trails:tiles"
)

// TileStore implements ports.TileStore on Valkey. Each entry is a JSON
// string under trails:tile:{z/x/y}; a sorted set scored by fetch time in
// epoch ms indexes them for eviction.
type TileStore struct {
	client  valkey.Client
	horizon time.Duration
}

func (s *TileStore) Get(ctx context.Context, key domain.TileKey) (*domain.TileEntry, error) {
	b, err := s.client.Do(ctx, s.client.B().Get().Key(tileKeyPrefix+key.String()).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tile %s: %w", key, err)
	}

	var entry domain.TileEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", key, err)
	}
	entry.Data.Normalize()
	return &entry, nil
}

// Put writes the entry and indexes it. When a horizon is set the key also
// carries a TTL so orphans expire without the evictor.
func (s *TileStore) Put(ctx context.Context, entry *domain.TileEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode tile %s: %w", entry.TileKey, err)
	}

	set := s.client.B().Set().Key(tileKeyPrefix + entry.TileKey).Value(string(b))
	var setCmd valkey.Completed
	if s.horizon > 0 {
		setCmd = set.Ex(s.horizon).Build()
	} else {
		setCmd = set.Build()
	}

	for _, res := range s.client.DoMulti(ctx,
		setCmd,
		s.client.B().Zadd().Key(tileIndexKey).ScoreMember().ScoreMember(float64(entry.Timestamp), entry.TileKey).Build(),
	) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("put tile %s: %w", entry.TileKey, err)
		}
	}
	return nil
}

func (s *TileStore) EvictOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	max := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)

	keys, err := s.client.Do(ctx,
		s.client.B().Zrangebyscore().Key(tileIndexKey).Min("-inf").Max(max).Build(),
	).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("scan tile index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	dataKeys := make([]string, len(keys))
	for i, k := range keys {
		dataKeys[i] = tileKeyPrefix + k
	}
	for _, res := range s.client.DoMulti(ctx,
		s.client.B().Del().Key(dataKeys...).Build(),
		s.client.B().Zrem().Key(tileIndexKey).Member(keys...).Build(),
	) {
		if err := res.Error(); err != nil {
			return nil, fmt.Errorf("evict tiles: %w", err)
		}
	}
	return keys, nil
}
