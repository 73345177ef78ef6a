package handlers

import (
	"errors"
	"net/http"

	"lti-booking/internal/domain/booking"
	"lti-booking/internal/infrastructure/lms"
	"lti-booking/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
}

// bindAndValidate decodes the JSON body into req and runs struct validation.
// It writes the 400 response itself and reports false on failure.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Message: "Invalid request format",
			Errors:  err.Error(),
		})
		return false
	}

	if err := validator.ValidateStruct(req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Message: "Validation failed",
			Errors:  validator.FormatValidationError(err),
		})
		return false
	}
	return true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Message: "Invalid " + name + " format",
		})
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps service errors onto status codes. Unknown errors are 500
// and attached to the gin context so the request logger records them.
func respondError(c *gin.Context, fallback string, err error) {
	status, message := http.StatusInternalServerError, fallback

	switch {
	case errors.Is(err, booking.ErrSlotNotFound),
		errors.Is(err, booking.ErrCourseNotFound),
		errors.Is(err, booking.ErrReservationNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, booking.ErrForbidden):
		status, message = http.StatusForbidden, "Not allowed for this course or role"
	case errors.Is(err, booking.ErrSlotHasReservations),
		errors.Is(err, booking.ErrDuplicate):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, booking.ErrInvalidSlotBatch),
		errors.Is(err, booking.ErrInvalidReference):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, lms.ErrReauthenticationRequired):
		status, message = http.StatusUnauthorized, "LMS authorization expired, launch the tool again"
	default:
		_ = c.Error(err)
	}

	resp := APIResponse{Success: false, Message: message}
	if status == http.StatusInternalServerError {
		resp.Errors = err.Error()
	}
	c.JSON(status, resp)
}
