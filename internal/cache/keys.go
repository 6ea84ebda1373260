package cache

import (
	"fmt"
	"strings"
)

// StatusAll is the status segment of listing keys when no filter applies.
const StatusAll = "all"

// SlotsKey caches the slot listing of one consultant day.
func SlotsKey(consultantID uint64, date string) string {
	return fmt.Sprintf("slots:%d:%s", consultantID, date)
}

// SlotsScope is the generation scope of a consultant's slot listings.
func SlotsScope(consultantID uint64) string {
	return fmt.Sprintf("slots:%d", consultantID)
}

// SlotsPattern matches every cached day of a consultant.
func SlotsPattern(consultantID uint64) string {
	return fmt.Sprintf("slots:%d:*", consultantID)
}

// ClientAppointmentsKey caches a client's appointment listing for a status
// filter ("" means all).
func ClientAppointmentsKey(clientID uint64, status string) string {
	return fmt.Sprintf("appointments:client:%d:%s", clientID, statusSegment(status))
}

// ClientAppointmentsScope is the generation scope of a client's listings.
func ClientAppointmentsScope(clientID uint64) string {
	return fmt.Sprintf("appointments:client:%d", clientID)
}

// ClientAppointmentsPattern matches every status variant of a client listing.
func ClientAppointmentsPattern(clientID uint64) string {
	return fmt.Sprintf("appointments:client:%d:*", clientID)
}

// ConsultantAppointmentsKey caches a consultant's appointment listing.
func ConsultantAppointmentsKey(consultantID uint64, status string) string {
	return fmt.Sprintf("appointments:consultant:%d:%s", consultantID, statusSegment(status))
}

// ConsultantAppointmentsScope is the generation scope of a consultant's
// listings.
func ConsultantAppointmentsScope(consultantID uint64) string {
	return fmt.Sprintf("appointments:consultant:%d", consultantID)
}

// ConsultantAppointmentsPattern matches every status variant of a
// consultant listing.
func ConsultantAppointmentsPattern(consultantID uint64) string {
	return fmt.Sprintf("appointments:consultant:%d:*", consultantID)
}

// ConsultantStatsKey is owned by the reporting side.  Booking changes only
// ever delete it.
func ConsultantStatsKey(consultantID uint64) string {
	return fmt.Sprintf("stats:consultant:%d", consultantID)
}

// generationKey lives outside every listing pattern so DeletePattern never
// removes a counter.
func generationKey(scope string) string {
	return "gen:" + scope
}

func statusSegment(status string) string {
	if status == "" {
		return StatusAll
	}
	return status
}

// family returns the leading segment of a key, used as the metrics label.
func family(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
