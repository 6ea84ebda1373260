package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consult-booking/internal/handler"
	"github.com/iliyamo/consult-booking/internal/middleware"
	"github.com/iliyamo/consult-booking/internal/model"
)

// RegisterBooking registers the authenticated booking routes under /v1.
// limiter guards booking creation; pass nil to disable it.
func RegisterBooking(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))

	client := middleware.RequireRole(model.RoleClient)
	either := middleware.RequireRole(model.RoleClient, model.RoleConsultant)

	create := []echo.MiddlewareFunc{client}
	if limiter != nil {
		create = append(create, limiter)
	}
	g.POST("/bookings", h.CreateBooking, create...)
	g.POST("/payments/verify", h.VerifyPayment, client)
	g.POST("/appointments/:id/cancel", h.Cancel, either)
	g.GET("/appointments/:id", h.GetAppointment, either)
	g.GET("/my-appointments", h.MyAppointments, client)
	g.GET("/consultant/appointments", h.ConsultantAppointments, middleware.RequireRole(model.RoleConsultant))
}
