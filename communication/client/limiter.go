package client

import (
	"context"
	"sync"
	"time"
)

// tokenBucket allows up to capacity sends at once and refills capacity tokens per second.
// A send also waits until the oldest of the last capacity sends is a second old, so no
// rolling second ever sees more than capacity sends.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	granted    []time.Time // Ring of the latest grants
	next       int
	now        func() time.Time
}

func newTokenBucket(maxRate int) *tokenBucket {
	l := &tokenBucket{now: time.Now}
	if maxRate > 0 {
		l.capacity = float64(maxRate)
		l.tokens = l.capacity
		l.refillRate = float64(maxRate)
		l.lastRefill = l.now()
		l.granted = make([]time.Time, maxRate)
	}
	return l
}

// reserve takes a token if one is available and otherwise reports how long until one is.
func (l *tokenBucket) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.capacity <= 0 {
		return 0
	}
	if now.Before(l.lastRefill) {
		l.lastRefill = now
	}
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.refillRate
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
		l.lastRefill = now
	}

	var wait time.Duration
	if l.tokens < 1 {
		wait = max(time.Duration((1-l.tokens)/l.refillRate*float64(time.Second)), time.Nanosecond)
	}
	if oldest := l.granted[l.next]; !oldest.IsZero() {
		if w := oldest.Add(time.Second).Sub(now); w > wait {
			wait = w
		}
	}
	if wait > 0 {
		return wait
	}

	l.tokens--
	l.granted[l.next] = now
	l.next = (l.next + 1) % len(l.granted)
	return 0
}

// Wait blocks until a token is taken or ctx is done.
func (l *tokenBucket) Wait(ctx context.Context) error {
	for {
		delay := l.reserve(l.now())
		if delay <= 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
