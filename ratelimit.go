package botbox

import (
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter for outbound calls, shared by every
// sandbox run on one runtime. Thread-safe; no background goroutines,
// tokens are refilled lazily on each acquisition.
type RateLimiter struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	burst    float64 // max bucket capacity
	tokens   float64
	lastFill time.Time
}

// NewRateLimiter creates a limiter admitting ratePerSecond calls per second
// with a burst of the same size (minimum one token).
func NewRateLimiter(ratePerSecond float64) *RateLimiter {
	burst := ratePerSecond
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:     ratePerSecond,
		burst:    burst,
		tokens:   burst,
		lastFill: time.Now(),
	}
}

// refillLocked advances the bucket to now. Caller holds mu.
func (l *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastFill).Seconds()
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastFill = now
}

// TryAcquire consumes a token if one is immediately available.
func (l *RateLimiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Reserve consumes a token unconditionally and returns how long the caller
// must wait before acting on it. Zero means a token was free right away.
// Letting the bucket go negative keeps concurrent reservations honest: each
// extra caller waits one more refill interval than the last.
func (l *RateLimiter) Reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	l.tokens--
	if l.tokens >= 0 {
		return 0
	}
	// tokens is negative: -tokens refill intervals until this reservation
	// is covered.
	return time.Duration(-l.tokens / l.rate * float64(time.Second))
}
