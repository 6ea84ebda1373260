package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consult-booking/internal/handler"
	"github.com/iliyamo/consult-booking/internal/middleware"
	"github.com/iliyamo/consult-booking/internal/model"
)

// RegisterConsultant registers the consultant-scoped routes.  Slot and
// availability reads are public so guests can browse before signing in;
// changing availability requires the consultant's own token.
func RegisterConsultant(e *echo.Echo, h *handler.ConsultantHandler, jwtSecret string) {
	g := e.Group("/v1/consultants/:ref")
	g.GET("/slots", h.GetSlots)
	g.GET("/availability", h.GetAvailability)
	g.PUT("/availability", h.PutAvailability,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleConsultant),
	)
}
