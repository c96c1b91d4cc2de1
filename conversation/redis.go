package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "triagebot:conversation:"

// RedisStore keeps each history as a JSON list with a TTL. A sorted set
// scored by last access time tracks keys for LRU eviction.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		prefix: defaultKeyPrefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for access scores.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) listKey(key Key) string {
	return s.prefix + key.String()
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore) touch(ctx context.Context, pipe redis.Cmdable, key Key) {
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(s.now().UnixMilli()), Member: key.String()})
}

func (s *RedisStore) Load(ctx context.Context, key Key) ([]Entry, error) {
	raw, err := s.rdb.LRange(ctx, s.listKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation list: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to decode conversation entry: %w", err)
		}
		entries = append(entries, e)
	}

	s.touch(ctx, s.rdb, key)
	return entries, nil
}

func (s *RedisStore) Save(ctx context.Context, key Key, entries []Entry) error {
	items := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode conversation entry: %w", err)
		}
		items = append(items, b)
	}

	list := s.listKey(key)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, list)
		if len(items) > 0 {
			pipe.RPush(ctx, list, items...)
			if s.ttl > 0 {
				pipe.Expire(ctx, list, s.ttl)
			}
		}
		s.touch(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save conversation list: %w", err)
	}
	return nil
}

// Len drops index members whose lists have expired before counting.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	if s.ttl > 0 {
		cutoff := s.now().Add(-s.ttl).UnixMilli()
		if err := s.rdb.ZRemRangeByScore(ctx, s.indexKey(), "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
			return 0, fmt.Errorf("failed to prune conversation index: %w", err)
		}
	}

	n, err := s.rdb.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) EvictOldest(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	popped, err := s.rdb.ZPopMin(ctx, s.indexKey(), int64(n)).Result()
	if err != nil {
		return fmt.Errorf("failed to pop conversation index: %w", err)
	}
	if len(popped) == 0 {
		return nil
	}

	keys := make([]string, 0, len(popped))
	for _, z := range popped {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		keys = append(keys, s.prefix+member)
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete conversations: %w", err)
	}
	return nil
}
