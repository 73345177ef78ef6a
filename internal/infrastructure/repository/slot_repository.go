package repository

import (
	"context"
	"errors"
	"fmt"

	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/database"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SlotRepository struct {
	db *gorm.DB
}

func NewSlotRepository(db *gorm.DB) interfaces.SlotRepository {
	return &SlotRepository{db: db}
}

func (r *SlotRepository) CreateBatch(ctx context.Context, slots []*booking.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	for _, s := range slots {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if s.State == "" {
			s.State = booking.StateActive
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, s := range slots {
			if err := tx.Omit(clause.Associations).Create(s).Error; err != nil {
				return fmt.Errorf("slot %d of %d: %w", i+1, len(slots), database.MapError(err))
			}
		}
		return nil
	})
}

func (r *SlotRepository) GetByID(ctx context.Context, id uuid.UUID) (*booking.Slot, error) {
	var slot booking.Slot
	err := r.db.WithContext(ctx).
		Preload("Instructor").
		Preload("Location").
		Where("id = ? AND state = ?", id, booking.StateActive).
		First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &slot, nil
}

func (r *SlotRepository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]*booking.Slot, error) {
	var slots []*booking.Slot
	err := r.db.WithContext(ctx).
		Preload("Instructor").
		Preload("Location").
		Where("course_id = ? AND state = ?", courseID, booking.StateActive).
		Order("time_start").
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (r *SlotRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot booking.Slot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND state = ?", id, booking.StateActive).
			First(&slot).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return booking.ErrSlotNotFound
			}
			return err
		}

		var active int64
		if err := tx.Model(&booking.Reservation{}).
			Where("slot_id = ? AND state = ?", id, booking.StateActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return booking.ErrSlotHasReservations
		}

		return tx.Model(&booking.Slot{}).
			Where("id = ?", id).
			Update("state", booking.StateCancelled).Error
	})
}
