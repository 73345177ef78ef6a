package cache

import (
	"context"
	"time"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/google/uuid"
)

var _ interfaces.CacheService = NoopCache{}

// NoopCache is used when cache.type is none. Every read misses.
type NoopCache struct{}

func (NoopCache) GetSlotViews(context.Context, uuid.UUID) ([]*booking.SlotView, error) {
	return nil, ErrCacheMiss
}

func (NoopCache) SetSlotViews(context.Context, uuid.UUID, []*booking.SlotView, time.Duration) error {
	return nil
}

func (NoopCache) InvalidateCourseSlots(context.Context, uuid.UUID) error { return nil }

func (NoopCache) Get(context.Context, string) (string, error) { return "", ErrCacheMiss }

func (NoopCache) Set(context.Context, string, string, time.Duration) error { return nil }

func (NoopCache) Delete(context.Context, ...string) error { return nil }

func (NoopCache) Ping(context.Context) error { return nil }
