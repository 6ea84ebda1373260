package config

import (
	"os"
	"strconv"
	"time"
)

// CacheConfig defines settings for the read caches kept in Redis.
// When Enabled is false or no Redis client is configured, every lookup
// misses and writes are skipped.  SlotsTTL bounds the lifetime of a slot
// listing, ListingsTTL that of the per-user appointment listings.  Prefix
// namespaces every key so several deployments can share one Redis.
type CacheConfig struct {
	Enabled     bool
	SlotsTTL    time.Duration
	ListingsTTL time.Duration
	Prefix      string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.  Defaults
// are used when variables are not set.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled:     getenv("CACHE_ENABLED", "true") == "true",
		SlotsTTL:    parseDur(getenv("CACHE_SLOTS_TTL", "5m")),
		ListingsTTL: parseDur(getenv("CACHE_LISTINGS_TTL", "10m")),
		Prefix:      getenv("CACHE_PREFIX", ""),
	}
	if cfg.SlotsTTL <= 0 {
		cfg.SlotsTTL = 5 * time.Minute
	}
	if cfg.ListingsTTL <= 0 {
		cfg.ListingsTTL = 10 * time.Minute
	}
	return cfg
}

// Helper functions reused from redis.go and payment.go
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func parseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Second
	}
	return d
}
