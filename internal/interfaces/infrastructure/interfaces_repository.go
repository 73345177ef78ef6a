package interfaces

import (
	"context"
	"time"

	"lti-booking/internal/domain/booking"

	"github.com/google/uuid"
)

// AdmissionFunc decides on a snapshot taken while the slot is locked.
type AdmissionFunc func(snap *booking.SlotSnapshot) booking.Decision

// CancelFunc decides on a reservation loaded while it is locked.
type CancelFunc func(res *booking.Reservation, slot *booking.Slot, course *booking.Course) booking.Decision

type CourseRepository interface {
	Create(ctx context.Context, course *booking.Course) error
	Update(ctx context.Context, course *booking.Course) error
	GetByID(ctx context.Context, id uuid.UUID) (*booking.Course, error)
	GetByLMSCourseID(ctx context.Context, lmsCourseID string) (*booking.Course, error)
	List(ctx context.Context) ([]*booking.Course, error)
}

type SlotRepository interface {
	// CreateBatch stores all slots or none of them.
	CreateBatch(ctx context.Context, slots []*booking.Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*booking.Slot, error)
	ListByCourse(ctx context.Context, courseID uuid.UUID) ([]*booking.Slot, error)
	// Cancel moves the slot to cancelled. It fails with
	// booking.ErrSlotHasReservations while active reservations exist.
	Cancel(ctx context.Context, id uuid.UUID) error
}

type SlotViewRepository interface {
	ListSlotViews(ctx context.Context, courseID uuid.UUID) ([]*booking.SlotView, error)
}

type ReservationRepository interface {
	// Reserve locks the slot and its course, builds a snapshot, asks decide and
	// inserts res only when admitted. The check and the insert are atomic.
	Reserve(ctx context.Context, res *booking.Reservation, decide AdmissionFunc) (booking.Decision, error)
	// Cancel locks the reservation, asks check and flips it to cancelled only
	// if it is still active.
	Cancel(ctx context.Context, id uuid.UUID, check CancelFunc, cancelledBy string, at time.Time) (*booking.Reservation, booking.Decision, error)
	GetByID(ctx context.Context, id uuid.UUID) (*booking.Reservation, error)
	ListActiveBySlot(ctx context.Context, slotID uuid.UUID) ([]*booking.Reservation, error)
	ListByHolder(ctx context.Context, userID string, groupIDs []string) ([]*booking.Reservation, error)
}

type CatalogRepository interface {
	CreateSegment(ctx context.Context, segment *booking.Segment) error
	ListSegments(ctx context.Context) ([]*booking.Segment, error)
	CreateLocation(ctx context.Context, location *booking.Location) error
	ListLocations(ctx context.Context) ([]*booking.Location, error)
	CreateInstructor(ctx context.Context, instructor *booking.Instructor) error
	GetInstructor(ctx context.Context, id uuid.UUID) (*booking.Instructor, error)
	ListInstructors(ctx context.Context) ([]*booking.Instructor, error)
}

type MessageLogRepository interface {
	Create(ctx context.Context, entry *booking.MessageLog) error
	ListBySlot(ctx context.Context, slotID uuid.UUID) ([]*booking.MessageLog, error)
}

type TokenRepository interface {
	Get(ctx context.Context, userID, domain string) (*booking.CachedToken, error)
	Upsert(ctx context.Context, token *booking.CachedToken) error
}

type IdempotencyRepository interface {
	Create(ctx context.Context, key *booking.IdempotencyKey) error
	GetByKey(ctx context.Context, key string) (*booking.IdempotencyKey, error)
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context) error
}
