package booking

import (
	"time"

	"github.com/google/uuid"
)

// SlotView is the availability row shown in slot listings.
type SlotView struct {
	ID               uuid.UUID    `json:"id"`
	CourseID         uuid.UUID    `json:"course_id"`
	CourseName       string       `json:"course_name"`
	Type             CapacityType `json:"type"`
	TimeStart        time.Time    `json:"time_start"`
	TimeEnd          time.Time    `json:"time_end"`
	ResNow           int          `json:"res_now"`
	ResMax           int          `json:"res_max"`
	InstructorName   string       `json:"instructor_name"`
	LocationName     string       `json:"location_name"`
	ReservedUserIDs  []string     `json:"-"`
	ReservedGroupIDs []string     `json:"-"`
	PercentFull      int          `json:"percent_full"`
	Availability     string       `json:"availability"`
	ReservedByMe     bool         `json:"reserved_by_me"`
}

// Decorate fills the presentation fields for actor.
func (v *SlotView) Decorate(actor Actor) {
	if v.ResMax > 0 {
		v.PercentFull = min(v.ResNow*100/v.ResMax, 100)
	} else {
		v.PercentFull = 100
	}
	v.Availability = AvailabilityHint(v.ResNow, v.ResMax)
	v.ReservedByMe = false
	for _, id := range v.ReservedUserIDs {
		if id == actor.UserID {
			v.ReservedByMe = true
			return
		}
	}
	for _, id := range v.ReservedGroupIDs {
		if actor.InGroup(id) {
			v.ReservedByMe = true
			return
		}
	}
}

// ReservationDetail is a reservation joined with its slot for listings.
type ReservationDetail struct {
	Reservation  *Reservation `json:"reservation"`
	Slot         *Slot        `json:"slot"`
	CourseName   string       `json:"course_name"`
	IsCancelable bool         `json:"is_cancelable"`
}
