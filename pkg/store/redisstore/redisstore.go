// Package redisstore implements the store.Store interface backed by Redis,
// the production cross-worker session store.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Radicalscale/virevo/pkg/store"
)

// Store implements store.Store using a *redis.Client.
type Store struct {
	client *redis.Client
}

// New connects to redisURL (a standard redis:// or rediss:// connection
// string) and returns a ready Store. Callers should check the returned
// error and fall back to memstore.New on failure, matching the degrade
// path the original service takes when REDIS_URL is unset or unreachable.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: ping: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %q: %w", key, err)
	}
	return val, nil
}

// UpdateMerge reads the existing record, shallow-merges partial on top, and
// writes it back with ttl refreshed — mirroring the original service's
// get-then-setex update pattern (not a Lua transaction; correctness does not
// depend on cross-key atomicity, only on this record's own single-key TTL).
func (s *Store) UpdateMerge(ctx context.Context, key string, partial map[string]any, ttl time.Duration) error {
	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	var doc map[string]any
	if err := json.Unmarshal(existing, &doc); err != nil {
		return fmt.Errorf("redisstore: unmarshal existing record %q: %w", key, err)
	}
	for k, v := range partial {
		doc[k] = v
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redisstore: marshal merged record %q: %w", key, err)
	}
	return s.Set(ctx, key, merged, ttl)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) SetAdd(ctx context.Context, setKey string, member string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, setKey, member)
	if ttl > 0 {
		pipe.Expire(ctx, setKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: set add %q: %w", setKey, err)
	}
	return nil
}

func (s *Store) SetRemove(ctx context.Context, setKey string, member string) (int, error) {
	if err := s.client.SRem(ctx, setKey, member).Err(); err != nil {
		return 0, fmt.Errorf("redisstore: set remove %q: %w", setKey, err)
	}
	return s.SetCount(ctx, setKey)
}

func (s *Store) SetCount(ctx context.Context, setKey string) (int, error) {
	n, err := s.client.SCard(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: set count %q: %w", setKey, err)
	}
	return int(n), nil
}

func (s *Store) SetMembers(ctx context.Context, setKey string) ([]string, error) {
	members, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: set members %q: %w", setKey, err)
	}
	return members, nil
}

func (s *Store) SetClear(ctx context.Context, setKey string) error {
	if err := s.client.Del(ctx, setKey).Err(); err != nil {
		return fmt.Errorf("redisstore: set clear %q: %w", setKey, err)
	}
	return nil
}

func (s *Store) KVSetex(ctx context.Context, flagKey string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, flagKey, value, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: kv setex %q: %w", flagKey, err)
	}
	return nil
}

func (s *Store) KVGet(ctx context.Context, flagKey string) (string, error) {
	val, err := s.client.Get(ctx, flagKey).Result()
	if err == redis.Nil {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redisstore: kv get %q: %w", flagKey, err)
	}
	return val, nil
}

func (s *Store) KVDelete(ctx context.Context, flagKey string) error {
	if err := s.client.Del(ctx, flagKey).Err(); err != nil {
		return fmt.Errorf("redisstore: kv delete %q: %w", flagKey, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisstore: ping: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ store.Store = (*Store)(nil)
