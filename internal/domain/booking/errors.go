package booking

import "errors"

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrCourseNotFound      = errors.New("course not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrSlotHasReservations = errors.New("slot has active reservations")
	ErrInvalidSlotBatch    = errors.New("invalid slot batch")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidReference    = errors.New("referenced entity does not exist")
	ErrDuplicate           = errors.New("duplicate entry")
)
