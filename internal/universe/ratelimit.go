package universe

import (
	"sync"
	"time"
)

type bucket struct {
	tokens   float64
	updated  time.Time
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket. Buckets idle past the TTL are
// dropped on the next cleanup sweep.
type RateLimiter struct {
	mu          sync.Mutex
	ratePerSec  float64
	capacity    float64
	idleTTL     time.Duration
	buckets     map[string]*bucket
	lastCleanup time.Time

	now func() time.Time
}

// NewRateLimiter allows ratePerMin requests per minute per key with a
// burst of the same size.
func NewRateLimiter(ratePerMin int, idleTTL time.Duration) *RateLimiter {
	if ratePerMin < 1 {
		ratePerMin = 1
	}
	if idleTTL < time.Minute {
		idleTTL = 5 * time.Minute
	}
	now := time.Now
	return &RateLimiter{
		ratePerSec:  float64(ratePerMin) / 60.0,
		capacity:    float64(ratePerMin),
		idleTTL:     idleTTL,
		buckets:     make(map[string]*bucket),
		lastCleanup: now(),
		now:         now,
	}
}

// Allow reports whether one request for key fits the budget, consuming a
// token when it does.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanupLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, updated: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.updated).Seconds(); elapsed > 0 {
		b.tokens = min(l.capacity, b.tokens+elapsed*l.ratePerSec)
		b.updated = now
	}
	b.lastSeen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *RateLimiter) cleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < l.idleTTL {
		return
	}
	l.lastCleanup = now
	cutoff := now.Add(-l.idleTTL)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
