// Package lock provides the short-lived per-slot lock that serialises
// concurrent bookings of the same consultant slot across server instances.
//
// The lock is an optimisation in front of the database transaction, not
// the source of truth: when Redis is missing or failing, Acquire grants the
// lock anyway and the serializable transaction plus the unique index keep
// bookings correct.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/consult-booking/internal/metrics"
	"github.com/iliyamo/consult-booking/pkg/logging"
)

// Lease identifies one successful acquisition.  The zero Lease is returned
// when the lock was granted without a backend and releasing it is a no-op.
type Lease struct {
	Key   string
	Token string
}

// Held reports whether the lease is backed by a Redis key.
func (l Lease) Held() bool { return l.Key != "" && l.Token != "" }

// Manager acquires and releases slot locks in Redis.
type Manager struct {
	rdb     *redis.Client
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// NewManager returns a Manager.  rdb may be nil, in which case every
// Acquire succeeds.
func NewManager(rdb *redis.Client, logger *logging.Logger, m *metrics.BookingMetrics) *Manager {
	return &Manager{rdb: rdb, logger: logging.OrDefault(logger), metrics: m}
}

// SlotKey builds the lock key for a consultant slot.  The start time is
// encoded as epoch milliseconds so the key is independent of time zones.
func SlotKey(consultantID uint64, slotStart time.Time) string {
	return fmt.Sprintf("lock:%d:%d", consultantID, slotStart.UnixMilli())
}

// Compare-and-delete so a holder whose TTL expired cannot remove a lock
// that has since been taken by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire tries to take the lock for (consultantID, slotStart) for ttl.
// It returns ok=false only when another holder's unexpired lock exists.
// Backend absence or errors are logged and treated as a grant.
func (m *Manager) Acquire(ctx context.Context, consultantID uint64, slotStart time.Time, ttl time.Duration) (Lease, bool) {
	key := SlotKey(consultantID, slotStart)
	if m.rdb == nil {
		m.metrics.ObserveLock("fail_open")
		return Lease{}, true
	}
	token := uuid.NewString()
	ok, err := m.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		m.logger.Warn("lock backend unavailable, proceeding without lock", "key", key, "error", err)
		m.metrics.ObserveLock("fail_open")
		return Lease{}, true
	}
	if !ok {
		m.metrics.ObserveLock("contended")
		return Lease{}, false
	}
	m.metrics.ObserveLock("acquired")
	return Lease{Key: key, Token: token}, true
}

// Release deletes the lock only if it still holds the lease's token.
// It never fails the caller: errors are logged.  Release runs on a context
// detached from ctx's cancellation so an aborted request still frees its
// lock.
func (m *Manager) Release(ctx context.Context, lease Lease) {
	if m.rdb == nil || !lease.Held() {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(rctx, m.rdb, []string{lease.Key}, lease.Token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		m.logger.Warn("lock release failed", "key", lease.Key, "error", err)
	}
}
