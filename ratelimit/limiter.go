// Package ratelimit gates inbound event frequency per connection.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter is a fixed-window counter keyed by connection id. Once a
// window's budget is spent, Allow returns false until the window rolls.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	budget  int
	buckets map[string]*bucket
	now     func() time.Time
}

func NewLimiter(window time.Duration, budget int) *Limiter {
	return &Limiter{
		window:  window,
		budget:  budget,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow records one inbound event for the connection and reports whether
// it fits the current window's budget.
func (l *Limiter) Allow(connID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[connID]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[connID] = &bucket{windowStart: now, count: 1}
		return true
	}
	b.count++
	return b.count <= l.budget
}

// Forget drops all state for a connection. Called on disconnect.
func (l *Limiter) Forget(connID string) {
	l.mu.Lock()
	delete(l.buckets, connID)
	l.mu.Unlock()
}
