package booking

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CapacityType says whether a slot is booked by single users or by LMS groups.
type CapacityType string

const (
	CapacityIndividual CapacityType = "individual"
	CapacityGroup      CapacityType = "group"
)

// State is the lifecycle tag carried by every catalog and reservation row.
// Rows are never removed; they move from active to cancelled.
type State string

const (
	StateActive    State = "active"
	StateCancelled State = "cancelled"
)

// Segment groups courses for filtering
type Segment struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	State     State     `json:"state" gorm:"type:text;not null;default:active"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Instructor is a person holding slots. LMSUserID is used for cc messages.
type Instructor struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	Email     string    `json:"email"`
	LMSUserID string    `json:"lms_user_id" gorm:"column:lms_user_id"`
	State     State     `json:"state" gorm:"type:text;not null;default:active"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Location is where a slot takes place (room, online link).
type Location struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	State     State     `json:"state" gorm:"type:text;not null;default:active"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Course holds the booking policy for one LMS course context.
type Course struct {
	ID                      uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey"`
	LMSCourseID             string       `json:"lms_course_id" gorm:"column:lms_course_id;not null"`
	Name                    string       `json:"name" gorm:"not null"`
	SegmentID               *uuid.UUID   `json:"segment_id,omitempty" gorm:"type:uuid"`
	InstructorID            *uuid.UUID   `json:"instructor_id,omitempty" gorm:"type:uuid"`
	CapacityType            CapacityType `json:"capacity_type" gorm:"type:text;not null"`
	MaxPerType              int          `json:"max_per_type" gorm:"not null;default:1"`
	CancellationPolicyHours int          `json:"cancellation_policy_hours" gorm:"not null;default:24"`
	MessageConfirmation     string       `json:"message_confirmation"`
	MessageFull             string       `json:"message_full"`
	MessageCancelled        string       `json:"message_cancelled"`
	MessageIsMandatory      bool         `json:"message_is_mandatory"`
	MessageAllWhenFull      bool         `json:"message_all_when_full"`
	MessageCcInstructor     bool         `json:"message_cc_instructor"`
	State                   State        `json:"state" gorm:"type:text;not null;default:active"`
	CreatedAt               time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt               time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// Slot is a bookable time window. ResNow is never stored; it is the count
// of active reservations.
type Slot struct {
	ID           uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	CourseID     uuid.UUID   `json:"course_id" gorm:"type:uuid;not null"`
	InstructorID *uuid.UUID  `json:"instructor_id,omitempty" gorm:"type:uuid"`
	LocationID   *uuid.UUID  `json:"location_id,omitempty" gorm:"type:uuid"`
	TimeStart    time.Time   `json:"time_start" gorm:"not null"`
	TimeEnd      time.Time   `json:"time_end" gorm:"not null"`
	ResMax       int         `json:"res_max" gorm:"not null"`
	State        State       `json:"state" gorm:"type:text;not null;default:active"`
	CreatedAt    time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
	Instructor   *Instructor `json:"instructor,omitempty" gorm:"foreignKey:InstructorID"`
	Location     *Location   `json:"location,omitempty" gorm:"foreignKey:LocationID"`
}

// Reservation binds one slot to a user, and for group slots to the group the
// user booked for.
type Reservation struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	SlotID      uuid.UUID  `json:"slot_id" gorm:"type:uuid;not null"`
	CourseID    uuid.UUID  `json:"course_id" gorm:"type:uuid;not null"`
	UserID      string     `json:"user_id" gorm:"not null"`
	UserName    string     `json:"user_name"`
	GroupID     *string    `json:"group_id,omitempty"`
	GroupName   string     `json:"group_name,omitempty"`
	Message     string     `json:"message"`
	State       State      `json:"state" gorm:"type:text;not null;default:active"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy string     `json:"cancelled_by,omitempty"`
}

func (r *Reservation) IsActive() bool {
	return r.State == StateActive
}

func (r *Reservation) IsGroup() bool {
	return r.GroupID != nil && *r.GroupID != ""
}

// Recipient is the LMS conversation recipient for the reservation holder.
func (r *Reservation) Recipient() string {
	if r.IsGroup() {
		return GroupRecipient(*r.GroupID)
	}
	return r.UserID
}

// MessageLog is an append-only record of one notification dispatch attempt.
type MessageLog struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	SlotID        uuid.UUID      `json:"slot_id" gorm:"type:uuid;not null"`
	ReservationID *uuid.UUID     `json:"reservation_id,omitempty" gorm:"type:uuid"`
	Scenario      string         `json:"scenario"`
	Recipients    datatypes.JSON `json:"recipients" gorm:"type:jsonb;not null"`
	Subject       string         `json:"subject"`
	Body          string         `json:"body"`
	Success       bool           `json:"success"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

// CachedToken is an LMS OAuth token persisted per (user, LMS domain).
type CachedToken struct {
	UserID       string     `json:"user_id" gorm:"primaryKey"`
	Domain       string     `json:"domain" gorm:"primaryKey"`
	AccessToken  string     `json:"-" gorm:"not null"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// Expired reports whether the access token is past its expiry. Tokens
// without an expiry never expire locally; the LMS answers 401 instead.
func (t *CachedToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// IdempotencyKey stores the response of a processed create request.
type IdempotencyKey struct {
	Key          string    `json:"key" gorm:"primaryKey"`
	UserID       string    `json:"user_id" gorm:"not null"`
	RequestHash  string    `json:"request_hash" gorm:"not null"`
	ResponseData string    `json:"response_data" gorm:"type:text"`
	StatusCode   int       `json:"status_code"`
	ProcessedAt  time.Time `json:"processed_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (k *IdempotencyKey) IsExpired() bool {
	return time.Now().After(k.ExpiresAt)
}
