package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consult-booking/internal/middleware"
	"github.com/iliyamo/consult-booking/internal/model"
	"github.com/iliyamo/consult-booking/internal/service"
	"github.com/iliyamo/consult-booking/pkg/logging"
)

// writeError maps service errors onto HTTP responses.  Anything outside
// the service taxonomy is logged and reported as a generic 500.
func writeError(c echo.Context, logger *logging.Logger, err error) error {
	var ce *service.ConflictError
	switch {
	case errors.As(err, &ce):
		body := echo.Map{"error": ce.Reason, "retryable": ce.Retryable}
		if ce.ConflictingTime != nil {
			body["conflicting_time"] = ce.ConflictingTime.UTC().Format(time.RFC3339)
		}
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrAlreadyCancelled):
		return c.JSON(http.StatusConflict, echo.Map{"error": "appointment already cancelled", "retryable": false})
	case errors.Is(err, service.ErrPaymentVerification):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment verification failed"})
	case errors.Is(err, service.ErrUpstream):
		logger.Error("upstream failure", "path", c.Path(), "error", err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment provider unavailable, please retry later"})
	}
	logger.Error("request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// requester returns the authenticated caller.  ok is false when the
// route was reached without JWTAuth having run.
func requester(c echo.Context) (model.Requester, bool) {
	return middleware.CurrentRequester(c)
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// pathID parses a positive integer path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}
