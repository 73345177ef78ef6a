package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lti-booking/internal/config"
	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrCacheMiss is returned when a key is absent.
var ErrCacheMiss = errors.New("cache miss")

var _ interfaces.CacheService = (*RedisCache)(nil)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr, password string, db int) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{
		client: rdb,
	}
}

func NewRedisCacheWithConfig(cfg *config.CacheConfig) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	return &RedisCache{client: rdb}
}

func (r *RedisCache) GetClient() *redis.Client {
	return r.client
}

// slotViewEntry keeps the holder lists that SlotView hides from JSON clients.
type slotViewEntry struct {
	View             *booking.SlotView `json:"view"`
	ReservedUserIDs  []string          `json:"reserved_user_ids"`
	ReservedGroupIDs []string          `json:"reserved_group_ids"`
}

func slotViewsKey(courseID uuid.UUID) string {
	return fmt.Sprintf("course:slots:%s", courseID.String())
}

func (r *RedisCache) GetSlotViews(ctx context.Context, courseID uuid.UUID) ([]*booking.SlotView, error) {
	val, err := r.client.Get(ctx, slotViewsKey(courseID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get slot views from cache: %w", err)
	}

	var entries []slotViewEntry
	if err := json.Unmarshal([]byte(val), &entries); err != nil {
		return nil, fmt.Errorf("invalid slot views in cache: %w", err)
	}

	views := make([]*booking.SlotView, 0, len(entries))
	for _, e := range entries {
		e.View.ReservedUserIDs = e.ReservedUserIDs
		e.View.ReservedGroupIDs = e.ReservedGroupIDs
		views = append(views, e.View)
	}
	return views, nil
}

func (r *RedisCache) SetSlotViews(ctx context.Context, courseID uuid.UUID, views []*booking.SlotView, ttl time.Duration) error {
	entries := make([]slotViewEntry, 0, len(views))
	for _, v := range views {
		entries = append(entries, slotViewEntry{View: v, ReservedUserIDs: v.ReservedUserIDs, ReservedGroupIDs: v.ReservedGroupIDs})
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal slot views: %w", err)
	}

	if err := r.client.Set(ctx, slotViewsKey(courseID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set slot views in cache: %w", err)
	}
	return nil
}

func (r *RedisCache) InvalidateCourseSlots(ctx context.Context, courseID uuid.UUID) error {
	return r.Delete(ctx, slotViewsKey(courseID))
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get key from cache: %w", err)
	}
	return val, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key in cache: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys from cache: %w", err)
	}
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
