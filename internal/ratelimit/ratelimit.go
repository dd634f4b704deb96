// Package ratelimit throttles clients per IP before they reach the routing
// pipeline. Each routed chat completion can fan out to several auxiliary
// model calls, so one hot client gets cut off at the front door rather than
// burning classifier and enhancer quota.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Limiter is a per-IP token bucket rate limiter.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     int           // tokens added per interval
	burst    int           // bucket capacity
	interval time.Duration // refill interval
	perToken time.Duration // time to earn one token
	maxKeys  int           // max tracked client IPs
	done     chan struct{}
	rejected prometheus.Counter // incremented on each 429, nil disables
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

// New creates a rate limiter granting rate requests per interval with the
// given burst capacity. rejected, when non-nil, counts throttled requests.
func New(rate, burst int, interval time.Duration, rejected prometheus.Counter) *Limiter {
	perToken := interval / time.Duration(rate)
	if perToken <= 0 {
		perToken = time.Nanosecond
	}
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		burst:    burst,
		interval: interval,
		perToken: perToken,
		maxKeys:  100000,
		done:     make(chan struct{}),
		rejected: rejected,
	}
	go l.dropIdle()
	return l
}

// Middleware enforces the limit per client IP (X-Real-IP, falling back to
// RemoteAddr). Probe endpoints are exempt; a kubelet must not be throttled
// away from /healthz by a noisy tenant behind the same proxy.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(int(l.interval/time.Second), 1))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		ip := r.Header.Get("X-Real-IP")
		if ip == "" {
			ip = r.RemoteAddr
		}
		if !l.allow(ip) {
			if l.rejected != nil {
				l.rejected.Inc()
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow takes one token from key's bucket, refilling it first by the time
// elapsed since the last fill: one token per l.perToken, capped at burst.
func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.dropOldestLocked()
		}
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	if earned := int(now.Sub(b.lastFill) / l.perToken); earned > 0 {
		if b.tokens+earned >= l.burst {
			b.tokens = l.burst
			b.lastFill = now
		} else {
			b.tokens += earned
			// Advance by the time actually converted into tokens so the
			// fractional remainder keeps accruing.
			b.lastFill = b.lastFill.Add(time.Duration(earned) * l.perToken)
		}
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// dropOldestLocked evicts the bucket with the oldest lastFill. Caller holds l.mu.
func (l *Limiter) dropOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, b := range l.buckets {
		if oldestKey == "" || b.lastFill.Before(oldest) {
			oldestKey = k
			oldest = b.lastFill
		}
	}
	if oldestKey != "" {
		delete(l.buckets, oldestKey)
	}
}

// Stop terminates the background eviction goroutine.
func (l *Limiter) Stop() {
	close(l.done)
}

// dropIdle periodically removes buckets for clients not seen in a while.
func (l *Limiter) dropIdle() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			l.mu.Lock()
			for k, b := range l.buckets {
				if b.lastFill.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}
