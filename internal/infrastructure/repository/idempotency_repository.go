package repository

import (
	"context"
	"errors"
	"time"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"gorm.io/gorm"
)

var _ interfaces.IdempotencyRepository = (*IdempotencyRepository)(nil)

type IdempotencyRepository struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Create(ctx context.Context, key *booking.IdempotencyKey) error {
	return r.db.WithContext(ctx).Create(key).Error
}

func (r *IdempotencyRepository) GetByKey(ctx context.Context, key string) (*booking.IdempotencyKey, error) {
	var idempotencyKey booking.IdempotencyKey
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&idempotencyKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &idempotencyKey, nil
}

func (r *IdempotencyRepository) DeleteExpired(ctx context.Context) error {
	result := r.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&booking.IdempotencyKey{})
	return result.Error
}

func (r *IdempotencyRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("key = ?", key).Delete(&booking.IdempotencyKey{}).Error
}
