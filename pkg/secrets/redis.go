package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "apiflow:secrets:"

// RedisStore keeps the secrets of a session in one redis hash, expiring after ttl of inactivity.
// It lets several studio processes share a session.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a store for sessionID. A zero ttl keeps the hash forever.
func NewRedisStore(client redis.UniversalClient, sessionID string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		key:    keyPrefix + sessionID,
		ttl:    ttl,
	}
}

// NewRedisStoreFromURL parses a redis:// URL and creates a store for sessionID.
func NewRedisStoreFromURL(rawURL, sessionID string, ttl time.Duration) (*RedisStore, error) {
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid secret store url: %w", err)
	}

	return NewRedisStore(redis.NewClient(options), sessionID, ttl), nil
}

func (r *RedisStore) Lookup(ctx context.Context, keys []string) (map[string]string, error) {
	found := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	values, err := r.client.HMGet(ctx, r.key, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}

	for i, value := range values {
		if s, ok := value.(string); ok {
			found[keys[i]] = s
		}
	}

	return found, nil
}

func (r *RedisStore) Put(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	if err := checkKeys(values); err != nil {
		return err
	}

	fields := make(map[string]any, len(values))
	for key, value := range values {
		fields[key] = value
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key, fields)

	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store secrets: %w", err)
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := r.client.HDel(ctx, r.key, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete secrets: %w", err)
	}

	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
