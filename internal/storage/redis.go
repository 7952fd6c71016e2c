package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/pawnfiddle/backend/internal/domain/fiddle"
)

// Redis stores whole documents under fiddle:<id> keys. Published fiddles
// live forever, so records carry no TTL.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis store from a redis:// URL and verifies the
// connection.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func key(id string) string {
	return "fiddle:" + id
}

// Get returns the document stored under id, or ErrNotFound.
func (s *Redis) Get(ctx context.Context, id string) (*fiddle.Fiddle, error) {
	raw, err := s.client.Get(ctx, key(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get fiddle %s: %w", id, err)
	}

	var f fiddle.Fiddle
	if err := sonic.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("failed to decode fiddle %s: %w", id, err)
	}
	return &f, nil
}

// Put writes the document under its own id.
func (s *Redis) Put(ctx context.Context, f *fiddle.Fiddle) error {
	raw, err := sonic.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode fiddle %s: %w", f.ID, err)
	}
	if err := s.client.Set(ctx, key(f.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to put fiddle %s: %w", f.ID, err)
	}
	return nil
}

// Exists reports whether a document is stored under id.
func (s *Redis) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check fiddle %s: %w", id, err)
	}
	return n > 0, nil
}

// Close releases the underlying client.
func (s *Redis) Close() error {
	return s.client.Close()
}
