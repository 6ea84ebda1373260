package model

import "strings"

// Role is the closed set of caller roles.  It is parsed once from the
// access token and carried as a value from then on.
type Role string

const (
	RoleClient     Role = "CLIENT"
	RoleConsultant Role = "CONSULTANT"
)

// ParseRole maps a token claim to a Role.  Unknown values report false.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleClient:
		return RoleClient, true
	case RoleConsultant:
		return RoleConsultant, true
	}
	return "", false
}

// Requester identifies the authenticated caller of an operation.
type Requester struct {
	UserID uint64
	Role   Role
}
