package memory

import (
	"context"
	"sync"
	"time"

	"offchain-settlement/internal/core/ports"

	"golang.org/x/time/rate"
)

// pruneEvery is how many Allow calls pass between sweeps of idle visitors.
const pruneEvery = 1024

// RateLimiter implements ports.RateLimiter with one token bucket per key. It is
// the fallback when Redis is disabled and only limits a single process.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	calls    int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow spends one token from key's bucket, which refills limit tokens per window.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%pruneEvery == 0 {
		l.prune(now)
	}

	v, ok := l.visitors[key]
	if !ok {
		every := rate.Every(window / time.Duration(max(limit, 1)))
		v = &visitor{limiter: rate.NewLimiter(every, int(limit)), window: window}
		l.visitors[key] = v
	}
	v.lastSeen = now

	allowed := v.limiter.AllowN(now, 1)
	remaining := int64(v.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	return &ports.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(window).Unix(),
	}, nil
}

func (l *RateLimiter) prune(now time.Time) {
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > v.window {
			delete(l.visitors, k)
		}
	}
}
