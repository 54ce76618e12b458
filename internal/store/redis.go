package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rcliao/memory-relay/internal/model"
)

const defaultRedisKey = "memory-relay:pending"

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379/0")
	URL string

	// Key is the list holding pending entries.
	Key string

	// Capacity bounds the list; the oldest entries are trimmed first.
	Capacity int

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration
}

// RedisStore implements PendingStore on a Redis list. New entries are pushed
// on the right, so LRANGE 0 -1 is oldest first.
type RedisStore struct {
	client   *redis.Client
	key      string
	capacity int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Key == "" {
		opts.Key = defaultRedisKey
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, key: opts.Key, capacity: opts.Capacity}, nil
}

func (s *RedisStore) Add(ctx context.Context, rec model.MemoryRecord) (*model.PendingEntry, error) {
	now := time.Now().UTC()
	entry := &model.PendingEntry{ID: newID(now), Record: rec, SavedAt: now}

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal pending entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.key, data)
		pipe.LTrim(ctx, s.key, int64(-s.capacity), -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("push pending entry: %w", err)
	}
	return entry, nil
}

func (s *RedisStore) List(ctx context.Context) ([]model.PendingEntry, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return decodeEntries(raw)
}

func (s *RedisStore) Drain(ctx context.Context) ([]model.PendingEntry, error) {
	var lr *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lr = pipe.LRange(ctx, s.key, 0, -1)
		pipe.Del(ctx, s.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain pending: %w", err)
	}
	return decodeEntries(lr.Val())
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	return int(n), err
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeEntries(raw []string) ([]model.PendingEntry, error) {
	entries := make([]model.PendingEntry, 0, len(raw))
	for _, r := range raw {
		var e model.PendingEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("unmarshal pending entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
