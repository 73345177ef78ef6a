package handlers

import (
	"net/http"

	"lti-booking/internal/api/middleware"
	serviceInterfaces "lti-booking/internal/interfaces/service"

	"github.com/gin-gonic/gin"
)

// ReservationHandler handles booking and cancellation requests
type ReservationHandler struct {
	reservationService serviceInterfaces.ReservationService
}

func NewReservationHandler(reservationService serviceInterfaces.ReservationService) *ReservationHandler {
	return &ReservationHandler{reservationService: reservationService}
}

// CreateReservation handles POST /api/v1/reservations
func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	actor, _ := middleware.CurrentActor(c)

	var req serviceInterfaces.CreateReservationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.reservationService.CreateReservation(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, "Reservation failed", err)
		return
	}

	// a rejected booking is an answer, not a failure
	if !result.Success {
		c.JSON(http.StatusConflict, APIResponse{
			Success: false,
			Message: result.Message,
			Data:    result,
		})
		return
	}

	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Message: result.Message,
		Data:    result,
	})
}

// CancelReservation handles POST /api/v1/reservations/:id/cancel
func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	actor, _ := middleware.CurrentActor(c)

	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.reservationService.CancelReservation(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, "Cancellation failed", err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	c.JSON(status, APIResponse{
		Success: result.Success,
		Message: result.Message,
		Data:    result,
	})
}

// MyReservations handles GET /api/v1/reservations/mine
func (h *ReservationHandler) MyReservations(c *gin.Context) {
	actor, _ := middleware.CurrentActor(c)

	details, err := h.reservationService.MyReservations(c.Request.Context(), actor)
	if err != nil {
		respondError(c, "Failed to retrieve reservations", err)
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]interface{}{"reservations": details},
	})
}

// SlotReservations handles GET /api/v1/admin/slots/:slot_id/reservations
func (h *ReservationHandler) SlotReservations(c *gin.Context) {
	actor, _ := middleware.CurrentActor(c)

	slotID, ok := parseUUIDParam(c, "slot_id")
	if !ok {
		return
	}

	reservations, err := h.reservationService.SlotReservations(c.Request.Context(), actor, slotID)
	if err != nil {
		respondError(c, "Failed to retrieve slot reservations", err)
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]interface{}{"reservations": reservations},
	})
}

// SlotMessages handles GET /api/v1/admin/slots/:slot_id/messages
func (h *ReservationHandler) SlotMessages(c *gin.Context) {
	actor, _ := middleware.CurrentActor(c)

	slotID, ok := parseUUIDParam(c, "slot_id")
	if !ok {
		return
	}

	messages, err := h.reservationService.SlotMessages(c.Request.Context(), actor, slotID)
	if err != nil {
		respondError(c, "Failed to retrieve message log", err)
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]interface{}{"messages": messages},
	})
}
