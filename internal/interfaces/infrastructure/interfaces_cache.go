package interfaces

import (
	"context"
	"time"

	"lti-booking/internal/domain/booking"

	"github.com/google/uuid"
)

type CacheService interface {
	GetSlotViews(ctx context.Context, courseID uuid.UUID) ([]*booking.SlotView, error)
	SetSlotViews(ctx context.Context, courseID uuid.UUID, views []*booking.SlotView, ttl time.Duration) error
	InvalidateCourseSlots(ctx context.Context, courseID uuid.UUID) error

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// CacheMetrics receives hit/miss events from in-process caches.
type CacheMetrics interface {
	Hit(cache string)
	Miss(cache string)
}
