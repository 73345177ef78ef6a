package repository

import (
	"context"

	"lti-booking/internal/domain/booking"
	interfaces "lti-booking/internal/interfaces/infrastructure"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageLogRepository struct {
	db *gorm.DB
}

func NewMessageLogRepository(db *gorm.DB) interfaces.MessageLogRepository {
	return &MessageLogRepository{db: db}
}

// Create appends an entry. Entries are never updated.
func (r *MessageLogRepository) Create(ctx context.Context, entry *booking.MessageLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *MessageLogRepository) ListBySlot(ctx context.Context, slotID uuid.UUID) ([]*booking.MessageLog, error) {
	var entries []*booking.MessageLog
	err := r.db.WithContext(ctx).
		Where("slot_id = ?", slotID).
		Order("created_at").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
