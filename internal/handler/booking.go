package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consult-booking/internal/service"
	"github.com/iliyamo/consult-booking/pkg/logging"
)

// BookingHandler serves booking, payment verification, cancellation and
// the appointment listings.  Routes are mounted behind JWTAuth.
type BookingHandler struct {
	Bookings     Booker
	Cancels      Canceller
	Appointments AppointmentReader
	Logger       *logging.Logger
}

func NewBookingHandler(bookings Booker, cancels Canceller, appointments AppointmentReader, logger *logging.Logger) *BookingHandler {
	return &BookingHandler{Bookings: bookings, Cancels: cancels, Appointments: appointments, Logger: logging.OrDefault(logger)}
}

type createBookingRequest struct {
	ConsultantID    uint64 `json:"consultant_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

// CreateBooking handles POST /v1/bookings.  start_time is RFC 3339.  A
// free session comes back confirmed; a priced one comes back pending with
// the payment order the client must complete.
func (h *BookingHandler) CreateBooking(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ConsultantID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "consultant_id is required"})
	}
	start, err := time.Parse(time.RFC3339, body.StartTime)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "start_time must be RFC 3339"})
	}
	res, err := h.Bookings.CreateBooking(c.Request().Context(), service.BookingRequest{
		ConsultantRef:   body.ConsultantID,
		ClientID:        who.UserID,
		StartTime:       start,
		DurationMinutes: body.DurationMinutes,
	})
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, res)
}

type verifyPaymentRequest struct {
	AppointmentID uint64 `json:"appointment_id"`
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	Signature     string `json:"signature"`
}

// VerifyPayment handles POST /v1/payments/verify with the values the
// checkout widget returned.
func (h *BookingHandler) VerifyPayment(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	var body verifyPaymentRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	a, err := h.Bookings.VerifyPayment(c.Request().Context(), service.VerifyRequest{
		AppointmentID: body.AppointmentID,
		ClientID:      who.UserID,
		OrderID:       body.OrderID,
		PaymentID:     body.PaymentID,
		Signature:     body.Signature,
	})
	if errors.Is(err, service.ErrPaymentVerification) && a != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment verification failed", "appointment": a})
	}
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /v1/appointments/:id/cancel for either party.
func (h *BookingHandler) Cancel(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid appointment id"})
	}
	var body cancelRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
	}
	res, err := h.Cancels.Cancel(c.Request().Context(), id, who, body.Reason)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetAppointment handles GET /v1/appointments/:id.
func (h *BookingHandler) GetAppointment(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid appointment id"})
	}
	a, err := h.Appointments.Get(c.Request().Context(), id, who)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, a)
}

// MyAppointments handles GET /v1/my-appointments?status= for clients.
func (h *BookingHandler) MyAppointments(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	list, err := h.Appointments.ForClient(c.Request().Context(), who.UserID, c.QueryParam("status"))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"appointments": list})
}

// ConsultantAppointments handles GET /v1/consultant/appointments?status=.
func (h *BookingHandler) ConsultantAppointments(c echo.Context) error {
	who, ok := requester(c)
	if !ok {
		return unauthorized(c)
	}
	list, err := h.Appointments.ForConsultant(c.Request().Context(), who.UserID, c.QueryParam("status"))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"appointments": list})
}
