package handlers

import (
	"net/http"
	"time"

	"lti-booking/internal/api/middleware"
	serviceInterfaces "lti-booking/internal/interfaces/service"

	"github.com/gin-gonic/gin"
)

// CatalogHandler serves courses and slots, and the manager endpoints that edit them.
type CatalogHandler struct {
	catalogService serviceInterfaces.CatalogService
}

func NewCatalogHandler(catalogService serviceInterfaces.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalogService: catalogService}
}

// ListCourses handles GET /api/v1/courses
func (h *CatalogHandler) ListCourses(c *gin.Context) {
	courses, err := h.catalogService.ListCourses(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to retrieve courses", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: map[string]interface{}{"courses": courses}})
}

// GetCourse handles GET /api/v1/courses/:course_id
func (h *CatalogHandler) GetCourse(c *gin.Context) {
	courseID, ok := parseUUIDParam(c, "course_id")
	if !ok {
		return
	}

	course, err := h.catalogService.GetCourse(c.Request.Context(), courseID)
	if err != nil {
		respondError(c, "Failed to retrieve course", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: course})
}

// ListSlots handles GET /api/v1/courses/:course_id/slots?from=RFC3339
func (h *CatalogHandler) ListSlots(c *gin.Context) {
	actor, _ := middleware.CurrentActor(c)

	courseID, ok := parseUUIDParam(c, "course_id")
	if !ok {
		return
	}

	var from *time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, APIResponse{
				Success: false,
				Message: "Invalid from format, expected RFC3339",
			})
			return
		}
		from = &t
	}

	slots, err := h.catalogService.ListSlots(c.Request.Context(), actor, courseID, from)
	if err != nil {
		respondError(c, "Failed to retrieve slots", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: map[string]interface{}{"slots": slots}})
}

// CreateCourse handles POST /api/v1/admin/courses
func (h *CatalogHandler) CreateCourse(c *gin.Context) {
	var req serviceInterfaces.CreateCourseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	actor, _ := middleware.CurrentActor(c)
	course, err := h.catalogService.CreateCourse(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, "Failed to create course", err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{Success: true, Message: "Course created", Data: course})
}

// UpdateCoursePolicy handles PUT /api/v1/admin/courses/:course_id/policy
func (h *CatalogHandler) UpdateCoursePolicy(c *gin.Context) {
	courseID, ok := parseUUIDParam(c, "course_id")
	if !ok {
		return
	}

	var req serviceInterfaces.UpdateCoursePolicyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	actor, _ := middleware.CurrentActor(c)
	course, err := h.catalogService.UpdateCoursePolicy(c.Request.Context(), actor, courseID, &req)
	if err != nil {
		respondError(c, "Failed to update course", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: "Course updated", Data: course})
}

// CreateSlots handles POST /api/v1/admin/courses/:course_id/slots
func (h *CatalogHandler) CreateSlots(c *gin.Context) {
	courseID, ok := parseUUIDParam(c, "course_id")
	if !ok {
		return
	}

	var req serviceInterfaces.CreateSlotsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	actor, _ := middleware.CurrentActor(c)
	slots, err := h.catalogService.CreateSlots(c.Request.Context(), actor, courseID, &req)
	if err != nil {
		respondError(c, "Failed to create slots", err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Message: "Slots created",
		Data:    map[string]interface{}{"slots": slots},
	})
}

// DeleteSlot handles DELETE /api/v1/admin/slots/:slot_id
func (h *CatalogHandler) DeleteSlot(c *gin.Context) {
	slotID, ok := parseUUIDParam(c, "slot_id")
	if !ok {
		return
	}

	actor, _ := middleware.CurrentActor(c)
	if err := h.catalogService.DeleteSlot(c.Request.Context(), actor, slotID); err != nil {
		respondError(c, "Failed to delete slot", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: "Slot deleted"})
}

func (h *CatalogHandler) CreateSegment(c *gin.Context) {
	var req serviceInterfaces.NamedEntityRequest
	if !bindAndValidate(c, &req) {
		return
	}
	segment, err := h.catalogService.CreateSegment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to create segment", err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: segment})
}

func (h *CatalogHandler) ListSegments(c *gin.Context) {
	segments, err := h.catalogService.ListSegments(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to retrieve segments", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: map[string]interface{}{"segments": segments}})
}

func (h *CatalogHandler) CreateLocation(c *gin.Context) {
	var req serviceInterfaces.NamedEntityRequest
	if !bindAndValidate(c, &req) {
		return
	}
	location, err := h.catalogService.CreateLocation(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to create location", err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: location})
}

func (h *CatalogHandler) ListLocations(c *gin.Context) {
	locations, err := h.catalogService.ListLocations(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to retrieve locations", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: map[string]interface{}{"locations": locations}})
}

func (h *CatalogHandler) CreateInstructor(c *gin.Context) {
	var req serviceInterfaces.CreateInstructorRequest
	if !bindAndValidate(c, &req) {
		return
	}
	instructor, err := h.catalogService.CreateInstructor(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to create instructor", err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: instructor})
}

func (h *CatalogHandler) ListInstructors(c *gin.Context) {
	instructors, err := h.catalogService.ListInstructors(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to retrieve instructors", err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: map[string]interface{}{"instructors": instructors}})
}
