package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/service"
	"github.com/iliyamo/consult-booking/pkg/logging"
)

// ConsultantHandler serves the consultant-scoped endpoints under
// /v1/consultants/:ref.  :ref is either the consultant profile id or the
// consultant's user id.
type ConsultantHandler struct {
	Slots        SlotLister
	Availability AvailabilityManager
	Logger       *logging.Logger
}

func NewConsultantHandler(slots SlotLister, availability AvailabilityManager, logger *logging.Logger) *ConsultantHandler {
	return &ConsultantHandler{Slots: slots, Availability: availability, Logger: logging.OrDefault(logger)}
}

// GetSlots handles GET /v1/consultants/:ref/slots?date=YYYY-MM-DD.
func (h *ConsultantHandler) GetSlots(c echo.Context) error {
	ref, ok := pathID(c, "ref")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid consultant id"})
	}
	date := c.QueryParam("date")
	if date == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date is required"})
	}
	listing, err := h.Slots.GetAvailableSlots(c.Request().Context(), ref, date)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, listing)
}

// GetAvailability handles GET /v1/consultants/:ref/availability.
func (h *ConsultantHandler) GetAvailability(c echo.Context) error {
	ref, ok := pathID(c, "ref")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid consultant id"})
	}
	sets, err := h.Availability.List(c.Request().Context(), ref)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"availability": sets})
}

type availabilityRequest struct {
	Date      *string            `json:"date"`
	DayOfWeek *int               `json:"day_of_week"`
	Windows   []model.TimeWindow `json:"windows"`
}

// PutAvailability handles PUT /v1/consultants/:ref/availability.  The body
// names either a date or a day_of_week (0 = Sunday) and the full list of
// windows, which replaces whatever was stored for that key.
func (h *ConsultantHandler) PutAvailability(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	ref, ok := pathID(c, "ref")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid consultant id"})
	}
	var body availabilityRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	set, err := h.Availability.Set(c.Request().Context(), ref, who, service.AvailabilityInput{
		Date:      body.Date,
		DayOfWeek: body.DayOfWeek,
		Windows:   body.Windows,
	})
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, set)
}
