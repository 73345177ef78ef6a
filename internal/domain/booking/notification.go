package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scenario names a notification and the default template file for it.
type Scenario string

const (
	ScenarioGroupDone          Scenario = "reservation_group_done"
	ScenarioIndividualDone     Scenario = "reservation_individual_done"
	ScenarioGroupCanceled      Scenario = "reservation_group_canceled"
	ScenarioIndividualCanceled Scenario = "reservation_individual_canceled"
	ScenarioGroupFull          Scenario = "reservation_group_full"
)

// JobKind tells the pipeline which use case produced the job.
type JobKind string

const (
	JobReservationCreated   JobKind = "reservation.created"
	JobReservationCancelled JobKind = "reservation.cancelled"
)

// NotificationJob is queued after a reservation commit. The pipeline reloads
// the reservation and slot so it always works on committed state.
// FilledSlot is decided under the reservation lock: only the admission that
// took the last seat carries it.
type NotificationJob struct {
	ID            uuid.UUID `json:"id"`
	Kind          JobKind   `json:"kind"`
	ReservationID uuid.UUID `json:"reservation_id"`
	SlotID        uuid.UUID `json:"slot_id"`
	SenderUserID  string    `json:"sender_user_id"`
	SenderDomain  string    `json:"sender_domain"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	FilledSlot    bool      `json:"filled_slot,omitempty"`
}

// DispatchRequest is one conversation sent through the LMS.
type DispatchRequest struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	ContextID  string   `json:"context_id,omitempty"`
}

const groupRecipientPrefix = "group_"

func GroupRecipient(groupID string) string {
	return groupRecipientPrefix + groupID
}

func IsGroupRecipient(recipient string) bool {
	return strings.HasPrefix(recipient, groupRecipientPrefix)
}
