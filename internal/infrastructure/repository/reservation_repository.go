package repository

import (
	"context"
	"errors"
	"time"

	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/database"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReservationRepository keeps the admission check and the write in one
// transaction. Bookings lock the course row first and the slot row second,
// so every booking in a course is serialised and the per-course caps hold.
type ReservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) interfaces.ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Reserve(ctx context.Context, res *booking.Reservation, decide interfaces.AdmissionFunc) (booking.Decision, error) {
	var decision booking.Decision

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot booking.Slot
		if err := tx.Select("id", "course_id").Where("id = ?", res.SlotID).First(&slot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return booking.ErrSlotNotFound
			}
			return err
		}

		var course booking.Course
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", slot.CourseID).
			First(&course).Error; err != nil {
			return err
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", res.SlotID).
			First(&slot).Error; err != nil {
			return err
		}
		if slot.State != booking.StateActive || course.State != booking.StateActive {
			return booking.ErrSlotNotFound
		}

		var reservations []booking.Reservation
		if err := tx.Where("course_id = ? AND state = ?", course.ID, booking.StateActive).
			Find(&reservations).Error; err != nil {
			return err
		}

		decision = decide(booking.BuildSnapshot(&slot, &course, reservations))
		if !decision.Admitted {
			return nil
		}

		if res.ID == uuid.Nil {
			res.ID = uuid.New()
		}
		res.CourseID = course.ID
		res.State = booking.StateActive
		if res.CreatedAt.IsZero() {
			res.CreatedAt = time.Now().UTC()
		}

		if err := tx.Create(res).Error; err != nil {
			return database.MapError(err)
		}
		return nil
	})

	if errors.Is(err, booking.ErrDuplicate) {
		return booking.Reject(booking.AlreadyReservedThisSlot), nil
	}
	if err != nil {
		return booking.Decision{}, err
	}
	return decision, nil
}

func (r *ReservationRepository) Cancel(ctx context.Context, id uuid.UUID, check interfaces.CancelFunc, cancelledBy string, at time.Time) (*booking.Reservation, booking.Decision, error) {
	var (
		res      booking.Reservation
		decision booking.Decision
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&res).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return booking.ErrReservationNotFound
			}
			return err
		}

		var slot booking.Slot
		if err := tx.Where("id = ?", res.SlotID).First(&slot).Error; err != nil {
			return err
		}
		var course booking.Course
		if err := tx.Where("id = ?", slot.CourseID).First(&course).Error; err != nil {
			return err
		}

		decision = check(&res, &slot, &course)
		if !decision.Admitted {
			return nil
		}

		result := tx.Model(&booking.Reservation{}).
			Where("id = ? AND state = ?", id, booking.StateActive).
			Updates(map[string]any{
				"state":        booking.StateCancelled,
				"cancelled_at": at,
				"cancelled_by": cancelledBy,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			decision = booking.Reject(booking.NotCancelable)
			return nil
		}

		res.State = booking.StateCancelled
		res.CancelledAt = &at
		res.CancelledBy = cancelledBy
		return nil
	})
	if err != nil {
		return nil, booking.Decision{}, err
	}
	return &res, decision, nil
}

func (r *ReservationRepository) GetByID(ctx context.Context, id uuid.UUID) (*booking.Reservation, error) {
	var res booking.Reservation
	err := r.db.WithContext(ctx).First(&res, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (r *ReservationRepository) ListActiveBySlot(ctx context.Context, slotID uuid.UUID) ([]*booking.Reservation, error) {
	var reservations []*booking.Reservation
	err := r.db.WithContext(ctx).
		Where("slot_id = ? AND state = ?", slotID, booking.StateActive).
		Order("created_at").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *ReservationRepository) ListByHolder(ctx context.Context, userID string, groupIDs []string) ([]*booking.Reservation, error) {
	var reservations []*booking.Reservation

	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(groupIDs) > 0 {
		q = r.db.WithContext(ctx).Where("user_id = ? OR group_id IN ?", userID, groupIDs)
	}
	if err := q.Order("created_at DESC").Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}
