package booking

import "time"

// Reason is a user-facing rejection code. Localisation happens at the edge.
type Reason string

const (
	RoleNotBookable         Reason = "RoleNotBookable"
	SlotFull                Reason = "SlotFull"
	TimeInPast              Reason = "TimeInPast"
	AlreadyReservedThisSlot Reason = "AlreadyReservedThisSlot"
	CourseTypeCapReached    Reason = "CourseTypeCapReached"
	NotCancelable           Reason = "NotCancelable"
	NotInGroup              Reason = "NotInGroup"
	NotOwner                Reason = "NotOwner"
	MessageRequired         Reason = "MessageRequired"
)

var reasonMessages = map[Reason]string{
	RoleNotBookable:         "Instructors and administrators cannot book slots",
	SlotFull:                "This slot is fully booked",
	TimeInPast:              "This slot has already started",
	AlreadyReservedThisSlot: "You already hold a reservation on this slot",
	CourseTypeCapReached:    "You have reached the maximum number of reservations for this course",
	NotCancelable:           "This reservation can no longer be cancelled",
	NotInGroup:              "You must be a member of a group to book this slot",
	NotOwner:                "This reservation belongs to someone else",
	MessageRequired:         "A message is required for this course",
}

func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

// Decision is the outcome of an admission or cancellation check.
type Decision struct {
	Admitted bool   `json:"admitted"`
	Reason   Reason `json:"reason,omitempty"`
}

func Admit() Decision {
	return Decision{Admitted: true}
}

func Reject(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Evaluate decides whether actor may reserve the slot described by snap at
// now. Checks run in a fixed order and the first failure is returned.
func Evaluate(snap *SlotSnapshot, actor Actor, now time.Time) Decision {
	if !actor.CanBook() {
		return Reject(RoleNotBookable)
	}

	if snap.ResNow >= snap.ResMax {
		return Reject(SlotFull)
	}

	if !snap.TimeStart.After(now) {
		return Reject(TimeInPast)
	}

	if snap.Type == CapacityGroup {
		if len(actor.Groups) == 0 {
			return Reject(NotInGroup)
		}
		ids := actor.GroupIDs()
		if countIn(snap.ReservedGroupIDs, ids) > 0 {
			return Reject(AlreadyReservedThisSlot)
		}
		if capReached(countIn(snap.CourseReservedGroupIDs, ids), snap.CourseMaxPerType) {
			return Reject(CourseTypeCapReached)
		}
		return Admit()
	}

	ids := []string{actor.UserID}
	if countIn(snap.ReservedUserIDs, ids) > 0 {
		return Reject(AlreadyReservedThisSlot)
	}
	if capReached(countIn(snap.CourseReservedUserIDs, ids), snap.CourseMaxPerType) {
		return Reject(CourseTypeCapReached)
	}
	return Admit()
}

// IsCancelable is true while now is earlier than policyHours before start.
func IsCancelable(start, now time.Time, policyHours int) bool {
	cutoff := start.Add(-time.Duration(policyHours) * time.Hour)
	return now.Before(cutoff)
}

// EvaluateCancel decides whether actor may cancel res on slot. Managers of
// the course may cancel any active reservation regardless of the
// cancellation policy; everyone else needs ownership and the policy window.
func EvaluateCancel(res *Reservation, slot *Slot, course *Course, actor Actor, now time.Time) Decision {
	if !res.IsActive() {
		return Reject(NotCancelable)
	}
	if actor.Manages(course.LMSCourseID) {
		return Admit()
	}

	owner := res.UserID == actor.UserID
	if !owner && res.IsGroup() {
		owner = actor.InGroup(*res.GroupID)
	}
	if !owner {
		return Reject(NotOwner)
	}

	if !IsCancelable(slot.TimeStart, now, course.CancellationPolicyHours) {
		return Reject(NotCancelable)
	}
	return Admit()
}

// capReached treats a non-positive cap as unlimited.
func capReached(count, max int) bool {
	return max > 0 && count >= max
}

func countIn(list []string, ids []string) int {
	n := 0
	for _, v := range list {
		for _, id := range ids {
			if v == id {
				n++
				break
			}
		}
	}
	return n
}
