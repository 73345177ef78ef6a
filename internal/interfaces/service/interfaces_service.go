package service

import (
	"context"
	"time"

	"lti-booking/internal/domain/booking"

	"github.com/google/uuid"
)

// Request/Response types for Reservation Service
type CreateReservationRequest struct {
	SlotID  uuid.UUID `json:"slot_id" validate:"required"`
	GroupID string    `json:"group_id" validate:"omitempty,max=64"`
	Message string    `json:"message" validate:"max=2000"`
}

// ReservationResult is returned for both admitted and rejected bookings.
// Rejections are a normal outcome, not an error.
type ReservationResult struct {
	Success       bool           `json:"success"`
	ReservationID *uuid.UUID     `json:"reservation_id,omitempty"`
	Reason        booking.Reason `json:"reason,omitempty"`
	Message       string         `json:"message"`
}

type CancelResult struct {
	Success bool           `json:"success"`
	Reason  booking.Reason `json:"reason,omitempty"`
	Message string         `json:"message"`
}

// Request types for Catalog Service
type CreateCourseRequest struct {
	LMSCourseID             string     `json:"lms_course_id" validate:"required,max=64"`
	Name                    string     `json:"name" validate:"required,max=255"`
	SegmentID               *uuid.UUID `json:"segment_id"`
	InstructorID            *uuid.UUID `json:"instructor_id"`
	CapacityType            string     `json:"capacity_type" validate:"required,capacity_type"`
	MaxPerType              int        `json:"max_per_type" validate:"min=0"`
	CancellationPolicyHours int        `json:"cancellation_policy_hours" validate:"min=0,max=8760"`
	CoursePolicy
}

// CoursePolicy is the editable part of a course.
type CoursePolicy struct {
	MessageConfirmation string `json:"message_confirmation" validate:"max=10000"`
	MessageFull         string `json:"message_full" validate:"max=10000"`
	MessageCancelled    string `json:"message_cancelled" validate:"max=10000"`
	MessageIsMandatory  bool   `json:"message_is_mandatory"`
	MessageAllWhenFull  bool   `json:"message_all_when_full"`
	MessageCcInstructor bool   `json:"message_cc_instructor"`
}

type UpdateCoursePolicyRequest struct {
	Name                    string `json:"name" validate:"required,max=255"`
	MaxPerType              int    `json:"max_per_type" validate:"min=0"`
	CancellationPolicyHours int    `json:"cancellation_policy_hours" validate:"min=0,max=8760"`
	CoursePolicy
}

// CreateSlotsRequest describes a repeating batch: Count slots of Duration
// minutes, the n-th one starting at FirstStart + n*Interval minutes.
type CreateSlotsRequest struct {
	InstructorID *uuid.UUID `json:"instructor_id"`
	LocationID   *uuid.UUID `json:"location_id"`
	FirstStart   time.Time  `json:"first_start" validate:"required"`
	Duration     int        `json:"duration_minutes" validate:"required,min=1,max=1440"`
	Interval     int        `json:"interval_minutes" validate:"omitempty,gtefield=Duration"`
	Count        int        `json:"count" validate:"required,min=1,max=200"`
	ResMax       int        `json:"res_max" validate:"required,min=1,max=1000"`
}

type NamedEntityRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

type CreateInstructorRequest struct {
	Name      string `json:"name" validate:"required,max=255"`
	Email     string `json:"email" validate:"omitempty,email"`
	LMSUserID string `json:"lms_user_id" validate:"omitempty,max=64"`
}

type ReservationService interface {
	CreateReservation(ctx context.Context, actor booking.Actor, req *CreateReservationRequest) (*ReservationResult, error)
	CancelReservation(ctx context.Context, actor booking.Actor, reservationID uuid.UUID) (*CancelResult, error)
	MyReservations(ctx context.Context, actor booking.Actor) ([]*booking.ReservationDetail, error)
	SlotReservations(ctx context.Context, actor booking.Actor, slotID uuid.UUID) ([]*booking.Reservation, error)
	SlotMessages(ctx context.Context, actor booking.Actor, slotID uuid.UUID) ([]*booking.MessageLog, error)
}

type CatalogService interface {
	CreateCourse(ctx context.Context, actor booking.Actor, req *CreateCourseRequest) (*booking.Course, error)
	UpdateCoursePolicy(ctx context.Context, actor booking.Actor, courseID uuid.UUID, req *UpdateCoursePolicyRequest) (*booking.Course, error)
	GetCourse(ctx context.Context, courseID uuid.UUID) (*booking.Course, error)
	ListCourses(ctx context.Context) ([]*booking.Course, error)

	CreateSlots(ctx context.Context, actor booking.Actor, courseID uuid.UUID, req *CreateSlotsRequest) ([]*booking.Slot, error)
	DeleteSlot(ctx context.Context, actor booking.Actor, slotID uuid.UUID) error
	ListSlots(ctx context.Context, actor booking.Actor, courseID uuid.UUID, from *time.Time) ([]*booking.SlotView, error)

	CreateSegment(ctx context.Context, req *NamedEntityRequest) (*booking.Segment, error)
	ListSegments(ctx context.Context) ([]*booking.Segment, error)
	CreateLocation(ctx context.Context, req *NamedEntityRequest) (*booking.Location, error)
	ListLocations(ctx context.Context) ([]*booking.Location, error)
	CreateInstructor(ctx context.Context, req *CreateInstructorRequest) (*booking.Instructor, error)
	ListInstructors(ctx context.Context) ([]*booking.Instructor, error)
}

// GroupResolver returns the LMS groups of the actor in its course.
type GroupResolver interface {
	GroupsFor(ctx context.Context, actor booking.Actor) ([]booking.Group, error)
}
