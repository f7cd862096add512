package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	count   int64
	expires time.Time
}

// MemoryCache is an in-process Cache used when no Redis is configured.
// State is lost on restart and is not shared between server instances.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Ping always succeeds.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// get returns a live entry, evicting it if expired. Caller holds mu.
func (c *MemoryCache) get(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return e, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (c *MemoryCache) SetCode(ctx context.Context, email, code string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[codeKey(email)] = memoryEntry{value: code, expires: c.now().Add(ttl)}
	delete(c.entries, attemptsKey(email))
	return nil
}

func (c *MemoryCache) GetCode(ctx context.Context, email string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, _ := c.get(codeKey(email))
	return e.value, nil
}

func (c *MemoryCache) DeleteCode(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, codeKey(email))
	delete(c.entries, attemptsKey(email))
	return nil
}

func (c *MemoryCache) CodeAttempt(ctx context.Context, email string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := attemptsKey(email)
	e, ok := c.get(key)
	if !ok {
		e.expires = c.now().Add(attemptsTTL)
		if code, found := c.get(codeKey(email)); found {
			e.expires = code.expires
		}
	}
	e.count++
	c.entries[key] = e
	return e.count, nil
}

func (c *MemoryCache) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[revokedKey(jti)] = memoryEntry{value: "1", expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.get(revokedKey(jti))
	return ok, nil
}
