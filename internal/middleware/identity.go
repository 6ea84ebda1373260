package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/consult-booking/internal/model"
)

// claimUserID accepts the numeric forms a "sub" claim arrives in after JSON
// decoding, plus decimal strings.
func claimUserID(v interface{}) (uint64, bool) {
	switch t := v.(type) {
	case float64:
		if t > 0 && t == float64(uint64(t)) {
			return uint64(t), true
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// CurrentRequester returns the caller authenticated by JWTAuth.
func CurrentRequester(c echo.Context) (model.Requester, bool) {
	uid, ok := c.Get(ContextUserID).(uint64)
	if !ok || uid == 0 {
		return model.Requester{}, false
	}
	role, ok := c.Get(ContextRole).(model.Role)
	if !ok {
		return model.Requester{}, false
	}
	return model.Requester{UserID: uid, Role: role}, true
}

// userID returns the caller's id as a string for rate-limit keys, or
// "anon" when the request is not authenticated.
func userID(c echo.Context) string {
	if r, ok := CurrentRequester(c); ok {
		return strconv.FormatUint(r.UserID, 10)
	}
	return "anon"
}
