// Package cache is a JSON read cache on top of Redis.  Entries are written
// with a TTL and removed explicitly by the writers whose changes make them
// stale.  Every backend failure is logged and swallowed: a broken cache
// behaves like an empty one and never fails the caller.
//
// Writers also bump a generation counter per scope before deleting.  A
// reader records the generation before it loads from the database and
// stores its result with SetJSONAt, which refuses to write once the
// generation has moved, so a slow reader cannot put back a result that an
// invalidation already retired.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/consult-booking/internal/metrics"
	"github.com/iliyamo/consult-booking/pkg/logging"
)

// setIfGeneration writes KEYS[1] only while KEYS[2] still holds ARGV[1]
// (a missing counter reads as "0").
//
// ARGV[2] = value, ARGV[3] = ttl in milliseconds (0 means no expiry)
var setIfGeneration = redis.NewScript(`
	local cur = redis.call('GET', KEYS[2])
	if not cur then cur = '0' end
	if cur ~= ARGV[1] then
		return 0
	end
	local ttl = tonumber(ARGV[3])
	if ttl > 0 then
		redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
	else
		redis.call('SET', KEYS[1], ARGV[2])
	end
	return 1
`)

// Cache reads and writes JSON values.  The zero value and a Cache built
// with a nil client are valid and always miss.
type Cache struct {
	rdb     *redis.Client
	prefix  string
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// New returns a Cache.  prefix, when non-empty, is prepended to every key
// as "prefix:key".
func New(rdb *redis.Client, prefix string, logger *logging.Logger, m *metrics.BookingMetrics) *Cache {
	return &Cache{rdb: rdb, prefix: prefix, logger: logging.OrDefault(logger), metrics: m}
}

// Enabled reports whether a backend is configured.
func (c *Cache) Enabled() bool { return c != nil && c.rdb != nil }

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// GetJSON decodes the value at key into dst and reports whether it was
// found.  Decoding failures count as a miss and evict the entry.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	if !c.Enabled() {
		return false
	}
	name := family(key)
	bs, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.metrics.ObserveCache(name, false)
		return false
	}
	if err := json.Unmarshal(bs, dst); err != nil {
		c.logger.Warn("cache entry undecodable, evicting", "key", key, "error", err)
		c.Delete(ctx, key)
		c.metrics.ObserveCache(name, false)
		return false
	}
	c.metrics.ObserveCache(name, true)
	return true
}

// SetJSON stores v at key for ttl.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	bs, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, c.key(key), bs, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		c.logger.Warn("cache delete failed", "keys", keys, "error", err)
	}
}

// DeletePattern removes every key matching a glob pattern.  It walks the
// keyspace with SCAN so it does not block Redis the way KEYS would.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	if !c.Enabled() {
		return
	}
	iter := c.rdb.Scan(ctx, 0, c.key(pattern), 200).Iterator()
	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
			c.logger.Warn("cache delete failed", "pattern", pattern, "error", err)
		}
		batch = batch[:0]
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			flush()
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("cache scan failed", "pattern", pattern, "error", err)
	}
	flush()
}

// Generation returns the current generation of scope.  An empty result
// means the generation is unknown and SetJSONAt will not store anything.
func (c *Cache) Generation(ctx context.Context, scope string) string {
	if !c.Enabled() {
		return ""
	}
	v, err := c.rdb.Get(ctx, c.key(generationKey(scope))).Result()
	if errors.Is(err, redis.Nil) {
		return "0"
	}
	if err != nil {
		c.logger.Warn("cache generation read failed", "scope", scope, "error", err)
		return ""
	}
	return v
}

// Bump advances the generation of every scope.  Call it before deleting
// the entries a change made stale.
func (c *Cache) Bump(ctx context.Context, scopes ...string) {
	if !c.Enabled() || len(scopes) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, scope := range scopes {
		pipe.Incr(ctx, c.key(generationKey(scope)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache generation bump failed", "scopes", scopes, "error", err)
	}
}

// SetJSONAt stores v at key for ttl unless scope has moved past gen, the
// value returned by Generation before the caller loaded v.  It reports
// whether the value was written.
func (c *Cache) SetJSONAt(ctx context.Context, key string, v any, ttl time.Duration, scope, gen string) bool {
	if !c.Enabled() || gen == "" {
		return false
	}
	bs, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return false
	}
	keys := []string{c.key(key), c.key(generationKey(scope))}
	n, err := setIfGeneration.Run(ctx, c.rdb, keys, gen, bs, ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
		return false
	}
	if n == 0 {
		c.logger.Debug("cache fill skipped, scope invalidated during load", "key", key, "scope", scope)
		return false
	}
	return true
}
