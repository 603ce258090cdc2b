package ratelimit

import (
	"context"
	"sync"
	"time"

	"grcgateway/pkg/errors"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) error
	Stop()
}

// TokenBucketLimiter implements a per-key token bucket in memory.
type TokenBucketLimiter struct {
	rate    int
	burst   int
	mu      sync.Mutex
	buckets map[string]*bucket
	ticker  *time.Ticker
	done    chan struct{}
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucketLimiter creates an in-memory token bucket limiter
// allowing rate requests per second with the given burst capacity.
func NewTokenBucketLimiter(rate, burst int) *TokenBucketLimiter {
	if burst < rate {
		burst = rate
	}
	l := &TokenBucketLimiter{
		rate:    rate,
		burst:   burst,
		buckets: make(map[string]*bucket),
		ticker:  time.NewTicker(time.Minute),
		done:    make(chan struct{}),
	}

	go l.cleanupLoop()
	return l
}

// Allow checks if a request is allowed for the given key
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{
			tokens: l.burst,
			last:   time.Now(),
		}
		l.buckets[key] = b
	}

	// Refill tokens based on elapsed time
	now := time.Now()
	elapsed := now.Sub(b.last)
	tokensToAdd := int(elapsed.Milliseconds() * int64(l.rate) / 1000)
	if tokensToAdd > 0 {
		b.tokens = min(b.tokens+tokensToAdd, l.burst)
		b.last = now
	}

	if b.tokens > 0 {
		b.tokens--
		return nil
	}

	return errors.NewError(errors.ErrorTypeRateLimit, "rate limit exceeded").
		WithDetail("key", key).
		WithDetail("limit", l.rate)
}

// Stop stops the background cleanup loop
func (l *TokenBucketLimiter) Stop() {
	close(l.done)
	l.ticker.Stop()
}

func (l *TokenBucketLimiter) cleanupLoop() {
	for {
		select {
		case <-l.ticker.C:
			l.cleanup()
		case <-l.done:
			return
		}
	}
}

// cleanup removes buckets idle long enough to be fully refilled
func (l *TokenBucketLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, b := range l.buckets {
		if now.Sub(b.last) > 5*time.Minute {
			delete(l.buckets, key)
		}
	}
}
