package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

const (
	redisBackend   = "redis"
	redisKeyPrefix = "events-monitor:"
)

// RedisStore keeps one key per source. SET replaces the value atomically.
type RedisStore struct {
	client *redis.Client
	source string
}

// NewRedisStore connects to redisURL, e.g. redis://localhost:6379/0
func NewRedisStore(ctx context.Context, redisURL, source string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return NewRedisStoreWithClient(client, source), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, source string) *RedisStore {
	return &RedisStore{client: client, source: source}
}

// Key returns the redis key holding the state
func (s *RedisStore) Key() string {
	return redisKeyPrefix + StateName(s.source)
}

// Load reads the state value
func (s *RedisStore) Load(ctx context.Context) (*event.PersistedState, error) {
	data, err := s.client.Get(ctx, s.Key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return event.NewState(s.source), nil
		}
		return readCorrupt(redisBackend, s.source, fmt.Errorf("getting state: %w", err))
	}
	return decodeState(redisBackend, s.source, data)
}

// Save replaces the state value
func (s *RedisStore) Save(ctx context.Context, state *event.PersistedState) error {
	data, err := encodeState(redisBackend, state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.Key(), data, 0).Err(); err != nil {
		return writeFailed(redisBackend, fmt.Errorf("setting state: %w", err))
	}
	return nil
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
