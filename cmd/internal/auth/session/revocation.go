package session

import (
	"context"
	"sync"
	"time"
)

// RevocationCache is the short-lived deny list for access credential ids.
// Entries expire on their own once the credential would have expired anyway.
type RevocationCache interface {
	// Deny records jti for ttl. A ttl <= 0 is a no-op.
	Deny(ctx context.Context, jti string, ttl time.Duration) error
	IsDenied(ctx context.Context, jti string) (bool, error)
}

// MemoryRevocationCache is an in-process RevocationCache. Expired entries
// are pruned lazily on access.
type MemoryRevocationCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]time.Time
}

// NewMemoryRevocationCache returns an empty cache reading time from now
// (time.Now when nil).
func NewMemoryRevocationCache(now func() time.Time) *MemoryRevocationCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationCache{now: now, entries: make(map[string]time.Time)}
}

func (c *MemoryRevocationCache) Deny(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 || jti == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	until := c.now().Add(ttl)
	if prev, ok := c.entries[jti]; ok && prev.After(until) {
		return nil
	}
	c.entries[jti] = until
	return nil
}

func (c *MemoryRevocationCache) IsDenied(_ context.Context, jti string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, ok := c.entries[jti]
	if !ok {
		return false, nil
	}
	if !until.After(c.now()) {
		delete(c.entries, jti)
		return false, nil
	}
	return true, nil
}

// Len returns the number of unexpired entries.
func (c *MemoryRevocationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for jti, until := range c.entries {
		if !until.After(now) {
			delete(c.entries, jti)
			continue
		}
		n++
	}
	return n
}
