package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-key (client ID or remote IP) request rates using
// a token bucket per key.
type RateLimiter struct {
	limiters sync.Map // key → *limiterEntry

	mu    sync.RWMutex
	r     rate.Limit // refill rate (requests per second)
	burst int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a rate limiter. rpm is requests per minute; rpm <= 0
// disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	rl := &RateLimiter{}
	rl.SetLimit(rpm, burst)
	return rl
}

// SetLimit changes the rate for new and existing keys.
func (rl *RateLimiter) SetLimit(rpm, burst int) {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	rl.mu.Lock()
	rl.r, rl.burst = r, burst
	rl.mu.Unlock()

	rl.limiters.Range(func(_, value any) bool {
		e := value.(*limiterEntry)
		e.limiter.SetLimit(r)
		e.limiter.SetBurst(burst)
		return true
	})
}

// Allow reports whether a request from key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.Enabled() {
		return true
	}
	entry := rl.getOrCreate(key)
	entry.mu.Lock()
	entry.lastSeen = time.Now()
	entry.mu.Unlock()
	if !entry.limiter.Allow() {
		slog.Warn("security.rate_limited", "key", key)
		return false
	}
	return true
}

// Enabled returns true if the rate limiter is active.
func (rl *RateLimiter) Enabled() bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.r > 0
}

// Forget drops the bucket of key, e.g. when its client disconnects.
func (rl *RateLimiter) Forget(key string) {
	rl.limiters.Delete(key)
}

func (rl *RateLimiter) getOrCreate(key string) *limiterEntry {
	if v, ok := rl.limiters.Load(key); ok {
		return v.(*limiterEntry)
	}
	rl.mu.RLock()
	entry := &limiterEntry{
		limiter:  rate.NewLimiter(rl.r, rl.burst),
		lastSeen: time.Now(),
	}
	rl.mu.RUnlock()
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

// Run drops idle buckets every five minutes until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.cleanup(time.Now().Add(-10 * time.Minute))
		}
	}
}

func (rl *RateLimiter) cleanup(cutoff time.Time) {
	rl.limiters.Range(func(key, value any) bool {
		entry := value.(*limiterEntry)
		entry.mu.Lock()
		stale := entry.lastSeen.Before(cutoff)
		entry.mu.Unlock()
		if stale {
			rl.limiters.Delete(key)
		}
		return true
	})
}
