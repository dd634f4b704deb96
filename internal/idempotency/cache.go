// Package idempotency replays gateway responses for retried requests that
// carry an Idempotency-Key header. A retry of an already-answered routing
// request must not re-run classification or burn another enhancement call.
package idempotency

import (
	"sync"
	"time"
)

// replay is a recorded response, kept until its TTL elapses.
type replay struct {
	Body     []byte
	Status   int
	Header   map[string]string
	storedAt time.Time
}

// Cache holds replayable responses keyed by Idempotency-Key. Bounded in both
// time (ttl) and size (capacity); the background sweeper drops expired keys.
type Cache struct {
	mu       sync.Mutex
	byKey    map[string]*replay
	ttl      time.Duration
	capacity int
	done     chan struct{}
}

// New creates a Cache. Entries expire after ttl; when capacity is reached the
// oldest entry is dropped to make room. A sweeper goroutine runs every ttl/2
// (at least once a second) until Stop is called.
func New(ttl time.Duration, capacity int) *Cache {
	c := &Cache{
		byKey:    make(map[string]*replay),
		ttl:      ttl,
		capacity: capacity,
		done:     make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the recorded response for key, expiring it on read when stale.
func (c *Cache) Get(key string) (*replay, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rp, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	if time.Since(rp.storedAt) > c.ttl {
		delete(c.byKey, key)
		return nil, false
	}
	return rp, true
}

// Set records a response under key. Re-setting an existing key refreshes it
// in place; a new key at capacity evicts the oldest recorded response first.
func (c *Cache) Set(key string, body []byte, status int, header map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byKey[key]; !exists && len(c.byKey) >= c.capacity {
		c.dropOldest()
	}

	c.byKey[key] = &replay{
		Body:     body,
		Status:   status,
		Header:   header,
		storedAt: time.Now(),
	}
}

// Len reports the number of live entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// Stop terminates the sweeper goroutine.
func (c *Cache) Stop() {
	close(c.done)
}

func (c *Cache) sweep() {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for k, rp := range c.byKey {
				if now.Sub(rp.storedAt) > c.ttl {
					delete(c.byKey, k)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// dropOldest removes the entry with the earliest storedAt. Caller holds c.mu.
func (c *Cache) dropOldest() {
	var oldestKey string
	var oldest time.Time
	for k, rp := range c.byKey {
		if oldestKey == "" || rp.storedAt.Before(oldest) {
			oldestKey = k
			oldest = rp.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.byKey, oldestKey)
	}
}
