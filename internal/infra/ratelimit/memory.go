// Package ratelimit provides an in-process sliding window limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const pruneEvery = 1024

// MemoryLimiter keeps request timestamps per key in memory. Idle keys are
// dropped every pruneEvery calls.
type MemoryLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	calls  int
	now    func() time.Time
}

// NewMemoryLimiter creates an empty limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a request for key if fewer than limit happened within window.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	l.calls++
	if l.calls%pruneEvery == 0 {
		l.prune(cutoff)
	}

	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		l.events[key] = kept
		return false, 0, nil
	}

	kept = append(kept, now)
	l.events[key] = kept
	return true, limit - len(kept), nil
}

// prune drops keys with no request after cutoff. Caller holds mu.
func (l *MemoryLimiter) prune(cutoff time.Time) {
	for key, events := range l.events {
		if len(events) == 0 || !events[len(events)-1].After(cutoff) {
			delete(l.events, key)
		}
	}
}
