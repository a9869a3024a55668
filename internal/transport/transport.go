package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/ds124wfegd/appointly/config"
	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/ds124wfegd/appointly/internal/transport/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Booking  *BookingHandler
	SMS      *SMSHandler
	Reminder *ReminderHandler
	Auth     *AuthHandler
	Queue    *QueueHandler
}

// RouterDeps are the shared guards wired around the handlers.
type RouterDeps struct {
	Limiter        service.RateLimiter
	AuthService    service.AuthService
	Limits         config.RateLimitsConfig
	RequestTimeout int // в секундах
	HealthCheck    func(ctx context.Context) error
}

func InitRoutes(h Handlers, deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(middleware.Timeout(deps.RequestTimeout))

	limit := func(purpose string, rl config.RateLimit) gin.HandlerFunc {
		return middleware.RateLimit(deps.Limiter, purpose, rl.Limit, rl.Window)
	}

	// API routes
	api := router.Group("/api/v1")
	{
		api.GET("/availability", h.Booking.GetAvailability)

		bookings := api.Group("/bookings")
		{
			bookings.POST("", limit(entity.PurposeBooking, deps.Limits.Booking), h.Booking.CreateBooking)
			bookings.GET("/:id", h.Booking.GetBooking)
		}

		api.POST("/reminders/sweep", h.Reminder.Sweep)

		api.POST("/admin/login",
			middleware.AuthBlock(deps.Limiter),
			limit(entity.PurposeAuth, deps.Limits.Auth),
			h.Auth.Login,
		)

		// Admin routes
		admin := api.Group("/admin", middleware.AdminAuth(deps.AuthService))
		{
			admin.GET("/bookings", h.Booking.ListBookings)
			admin.POST("/bookings/:id/cancel", h.Booking.CancelBooking)
			admin.POST("/bookings/:id/reschedule", h.Booking.RescheduleBooking)
			admin.DELETE("/bookings/:id", h.Booking.DeleteBooking)
			admin.GET("/bookings/:id/sms", h.SMS.BookingHistory)

			sms := admin.Group("/sms")
			{
				sms.GET("", h.SMS.Search)
				sms.POST("/send", limit(entity.PurposeSMS, deps.Limits.SMS), h.SMS.Send)
				sms.POST("/:id/retry", limit(entity.PurposeSMS, deps.Limits.SMS), h.SMS.Retry)
				sms.GET("/status/:sid", limit(entity.PurposeStatus, deps.Limits.Status), h.SMS.Status)
				sms.POST("/status", limit(entity.PurposeStatus, deps.Limits.Status), h.SMS.StatusBatch)
			}

			admin.GET("/queue/stats", h.Queue.Stats)
			admin.GET("/queue/failed", h.Queue.FailedTasks)
			admin.POST("/queue/failed/:id/requeue", h.Queue.Requeue)
		}
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if deps.HealthCheck != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.HealthCheck(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC(),
		})
	})

	return router
}
