// Package ratelimit provides fixed-window request limiting keyed by client
// address or account identifier.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

type Limiter interface {
	// Allow records a hit for key and reports whether it is within limit
	// for the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type bucket struct {
	window time.Time
	count  int
}

// MemoryLimiter keeps counters in process memory. Suitable for a single
// instance only.
type MemoryLimiter struct {
	mu   sync.Mutex
	data map[string]bucket
	now  func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		data: make(map[string]bucket),
		now:  time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if key == "" {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	win := l.now().Truncate(window)
	b, ok := l.data[key]
	if !ok || b.window.Before(win) {
		l.data[key] = bucket{window: win, count: 1}
		return true, nil
	}
	if b.count >= limit {
		return false, nil
	}
	b.count++
	l.data[key] = b
	return true, nil
}

// Sweep drops buckets whose window ended before cutoff.
func (l *MemoryLimiter) Sweep(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, b := range l.data {
		if b.window.Before(cutoff) {
			delete(l.data, k)
			removed++
		}
	}
	return removed
}

func KeyEmail(email string) string {
	e := strings.TrimSpace(strings.ToLower(email))
	if e == "" {
		return ""
	}
	return "email:" + e
}
