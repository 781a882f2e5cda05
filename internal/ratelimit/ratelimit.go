// Package ratelimit implements a token-bucket limiter keyed by caller
// identity. Refill is lazy: each Consume credits whole refill intervals
// that elapsed since the bucket was last refilled. Idle buckets are
// evicted by a background janitor.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one Consume call.
type Decision struct {
	Allowed      bool  `json:"allowed"`
	Remaining    int   `json:"remaining"`
	MsUntilReset int64 `json:"msUntilReset"`
}

type bucket struct {
	tokens       int
	lastRefillAt time.Time
	lastSeenAt   time.Time
}

// Limiter hands out tokens per caller identity.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	every    time.Duration
	amount   int

	stopCleanup chan struct{}
	stopOnce    sync.Once

	nowFn func() time.Time
}

// New creates a limiter allowing capacity tokens per identity, refilled by
// amount every interval. It starts a janitor goroutine that evicts buckets
// idle for more than ten refill intervals; call Stop to end it.
func New(capacity int, every time.Duration, amount int) *Limiter {
	l := &Limiter{
		buckets:     make(map[string]*bucket),
		capacity:    capacity,
		every:       every,
		amount:      amount,
		stopCleanup: make(chan struct{}),
		nowFn:       time.Now,
	}

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.cleanup()
			case <-l.stopCleanup:
				return
			}
		}
	}()

	return l
}

// Stop stops the janitor goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
}

// Consume takes one token for the identity, reporting whether the request
// is allowed, how many tokens remain, and how long until the next refill
// when it is not.
func (l *Limiter) Consume(id string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefillAt: now}
		l.buckets[id] = b
	}
	b.lastSeenAt = now

	// Lazy refill: credit every whole interval that elapsed.
	if elapsed := now.Sub(b.lastRefillAt); elapsed >= l.every {
		intervals := int(elapsed / l.every)
		b.tokens += intervals * l.amount
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.lastRefillAt = b.lastRefillAt.Add(time.Duration(intervals) * l.every)
	}

	if b.tokens > 0 {
		b.tokens--
		return Decision{Allowed: true, Remaining: b.tokens}
	}

	untilReset := l.every - now.Sub(b.lastRefillAt)
	if untilReset < 0 {
		untilReset = 0
	}
	return Decision{MsUntilReset: untilReset.Milliseconds()}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.nowFn().Add(-10 * l.every)
	for id, b := range l.buckets {
		if b.lastSeenAt.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}
