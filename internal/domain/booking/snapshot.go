package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotSnapshot is the view of a slot the admission engine decides on.
// The Course* lists hold reservations on the other slots of the same course.
type SlotSnapshot struct {
	ID                     uuid.UUID    `json:"id"`
	ResNow                 int          `json:"res_now"`
	ResMax                 int          `json:"res_max"`
	Type                   CapacityType `json:"type"`
	TimeStart              time.Time    `json:"time_start"`
	CourseMaxPerType       int          `json:"course_max_per_type"`
	CourseName             string       `json:"course_name"`
	ReservedGroupIDs       []string     `json:"reserved_group_ids"`
	CourseReservedGroupIDs []string     `json:"course_reserved_group_ids"`
	ReservedUserIDs        []string     `json:"reserved_user_ids"`
	CourseReservedUserIDs  []string     `json:"course_reserved_user_ids"`
}

// BuildSnapshot derives the snapshot from a slot, its course and the active
// reservations of the whole course. Cancelled reservations are skipped.
func BuildSnapshot(slot *Slot, course *Course, courseReservations []Reservation) *SlotSnapshot {
	snap := &SlotSnapshot{
		ID:                     slot.ID,
		ResMax:                 slot.ResMax,
		Type:                   course.CapacityType,
		TimeStart:              slot.TimeStart,
		CourseMaxPerType:       course.MaxPerType,
		CourseName:             course.Name,
		ReservedGroupIDs:       []string{},
		CourseReservedGroupIDs: []string{},
		ReservedUserIDs:        []string{},
		CourseReservedUserIDs:  []string{},
	}

	for i := range courseReservations {
		r := &courseReservations[i]
		if !r.IsActive() {
			continue
		}
		if r.SlotID == slot.ID {
			snap.ResNow++
			snap.ReservedUserIDs = append(snap.ReservedUserIDs, r.UserID)
			if r.IsGroup() {
				snap.ReservedGroupIDs = append(snap.ReservedGroupIDs, *r.GroupID)
			}
			continue
		}
		snap.CourseReservedUserIDs = append(snap.CourseReservedUserIDs, r.UserID)
		if r.IsGroup() {
			snap.CourseReservedGroupIDs = append(snap.CourseReservedGroupIDs, *r.GroupID)
		}
	}

	return snap
}

func (s *SlotSnapshot) IsFull() bool {
	return s.ResNow >= s.ResMax
}

// LastSeat reports whether one more admission fills the slot.
func (s *SlotSnapshot) LastSeat() bool {
	return s.ResNow+1 >= s.ResMax
}

func (s *SlotSnapshot) PercentFull() int {
	if s.ResMax <= 0 {
		return 100
	}
	p := s.ResNow * 100 / s.ResMax
	if p > 100 {
		return 100
	}
	return p
}

// AvailabilityHint is the presentation phrase for a snapshot.
func AvailabilityHint(resNow, resMax int) string {
	free := resMax - resNow
	switch {
	case free <= 0:
		return "full"
	case free == 1:
		return "1 place left"
	case resNow == 0:
		return fmt.Sprintf("%d places available", free)
	default:
		return fmt.Sprintf("%d of %d places left", free, resMax)
	}
}
