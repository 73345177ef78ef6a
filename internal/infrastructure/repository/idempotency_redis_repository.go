package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/go-redis/redis/v8"
)

var _ interfaces.IdempotencyRepository = (*RedisIdempotencyRepository)(nil)

// RedisIdempotencyRepository keeps keys in redis and lets redis expire them.
type RedisIdempotencyRepository struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIdempotencyRepository(client redis.UniversalClient) *RedisIdempotencyRepository {
	return &RedisIdempotencyRepository{
		client: client,
		prefix: "idempotency_key:",
	}
}

// Create stores the key only if it is not present yet.
func (r *RedisIdempotencyRepository) Create(ctx context.Context, key *booking.IdempotencyKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency key: %w", err)
	}

	ttl := time.Until(key.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	ok, err := r.client.SetNX(ctx, r.redisKey(key.Key), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store idempotency key in Redis: %w", err)
	}
	if !ok {
		return booking.ErrDuplicate
	}
	return nil
}

func (r *RedisIdempotencyRepository) GetByKey(ctx context.Context, key string) (*booking.IdempotencyKey, error) {
	val, err := r.client.Get(ctx, r.redisKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get idempotency key from Redis: %w", err)
	}

	var idempotencyKey booking.IdempotencyKey
	if err := json.Unmarshal([]byte(val), &idempotencyKey); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency key: %w", err)
	}
	return &idempotencyKey, nil
}

// DeleteExpired is a no-op; redis drops keys on their TTL.
func (r *RedisIdempotencyRepository) DeleteExpired(ctx context.Context) error {
	return nil
}

func (r *RedisIdempotencyRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete idempotency key from Redis: %w", err)
	}
	return nil
}

func (r *RedisIdempotencyRepository) redisKey(key string) string {
	return r.prefix + key
}
