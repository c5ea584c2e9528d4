package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "gatortaxi:idem:"
	defaultTTL    = 24 * time.Hour
)

// RedisStore shares cached responses between API replicas. Entries expire
// after ttl.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore constructs the store. ttl <= 0 keeps entries for a day.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, prefix: defaultPrefix, ttl: ttl}
}

func (s *RedisStore) GetResponse(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get idempotency key: %w", err)
	}
	return payload, true, nil
}

// PutResponse stores payload unless a response is already cached for key.
func (s *RedisStore) PutResponse(ctx context.Context, key string, payload []byte) error {
	if err := s.client.SetNX(ctx, s.prefix+key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set idempotency key: %w", err)
	}
	return nil
}
