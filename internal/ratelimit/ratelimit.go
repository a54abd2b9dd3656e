// Package ratelimit throttles inbound chat messages per user.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether one more event for key is allowed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// MemoryLimiter is a token bucket per key kept in process memory.
type MemoryLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	rate     float64
	now      func() time.Time
}

// NewMemoryLimiter allows burst events per key, refilled evenly over interval.
func NewMemoryLimiter(burst int, interval time.Duration) *MemoryLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &MemoryLimiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(burst),
		rate:     float64(burst) / interval.Seconds(),
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastCheck: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastCheck).Seconds()
	b.lastCheck = now
	if elapsed > 0 {
		b.tokens += elapsed * l.rate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
	}

	if b.tokens < 1 {
		return false, nil
	}

	b.tokens--
	return true, nil
}

// Forget drops the bucket for key, e.g. when the user's last connection closes.
func (l *MemoryLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}
