package router

import (
	"lti-booking/internal/api/handlers"
	"lti-booking/internal/api/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter exposes the stack over HTTP.
func NewRouter(stack *Stack) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Logger())
	r.Use(cors.New(corsConfig(stack.Config.Server.AllowedOrigins)))
	r.Use(gin.Recovery())

	healthHandler := handlers.NewHealthHandler(stack.Config.App.Version, stack.Checks)
	reservationHandler := handlers.NewReservationHandler(stack.Reservations)
	catalogHandler := handlers.NewCatalogHandler(stack.Catalog)
	adminHandler := handlers.NewAdminHandler(stack.Metrics, map[string]handlers.CacheSizer{
		"course_groups": stack.Groups,
	})

	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/ready", healthHandler.ReadinessCheck)
	r.GET("/live", healthHandler.LivenessCheck)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Session(stack.Signer))
	{
		reservations := v1.Group("/reservations")
		{
			reservations.POST("", middleware.IdempotencyMiddleware(stack.Idempotency), reservationHandler.CreateReservation)
			reservations.POST("/:id/cancel", reservationHandler.CancelReservation)
			reservations.GET("/mine", reservationHandler.MyReservations)
		}

		courses := v1.Group("/courses")
		{
			courses.GET("", catalogHandler.ListCourses)
			courses.GET("/:course_id", catalogHandler.GetCourse)
			courses.GET("/:course_id/slots", catalogHandler.ListSlots)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.RequireManager())
		{
			admin.POST("/courses", catalogHandler.CreateCourse)
			admin.PUT("/courses/:course_id/policy", catalogHandler.UpdateCoursePolicy)
			admin.POST("/courses/:course_id/slots", catalogHandler.CreateSlots)

			admin.DELETE("/slots/:slot_id", catalogHandler.DeleteSlot)
			admin.GET("/slots/:slot_id/reservations", reservationHandler.SlotReservations)
			admin.GET("/slots/:slot_id/messages", reservationHandler.SlotMessages)

			admin.POST("/segments", catalogHandler.CreateSegment)
			admin.GET("/segments", catalogHandler.ListSegments)
			admin.POST("/locations", catalogHandler.CreateLocation)
			admin.GET("/locations", catalogHandler.ListLocations)
			admin.POST("/instructors", catalogHandler.CreateInstructor)
			admin.GET("/instructors", catalogHandler.ListInstructors)

			admin.GET("/cache/stats", adminHandler.CacheStats)
		}
	}

	return r
}

// corsConfig allows the LMS page that embeds the tool to call the API.
func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", middleware.IdempotencyHeader)
	cfg.ExposeHeaders = []string{middleware.RequestIDHeader}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
