package helseid

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// TokenCache stores access tokens with an expiry.
//
// Get reports found=false for missing or expired entries.
// Implementations must be safe for concurrent use.
type TokenCache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryTokenCache is an in-process TokenCache backed by ttlcache.
//
// Entries are evicted by ttlcache on the wall clock and are also checked
// against now, so a cache created with a fake clock expires on that clock.
type MemoryTokenCache struct {
	entries *ttlcache.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryTokenCache creates an empty in-process cache.
// now defaults to time.Now when nil.
func NewMemoryTokenCache(now func() time.Time) *MemoryTokenCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryTokenCache{
		entries: ttlcache.New(ttlcache.WithDisableTouchOnHit[string, memoryEntry]()),
		now:     now,
	}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (string, bool, error) {
	item := c.entries.Get(key)
	if item == nil {
		return "", false, nil
	}

	entry := item.Value()
	if !c.now().Before(entry.expiresAt) {
		c.entries.Delete(key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.entries.DeleteExpired()

	if ttl <= 0 {
		c.entries.Delete(key)
		return nil
	}
	c.entries.Set(key, memoryEntry{value: value, expiresAt: c.now().Add(ttl)}, ttl)
	return nil
}
