// Package bucket holds sliding-window request counters.
package bucket

import (
	"context"
	"sync"
	"time"

	"bondledger/internal/ratelimit/models"
)

// InMemory keeps one sliding window per key in process memory. It is the
// single-instance store and the fallback when Redis is unreachable.
type InMemory struct {
	mu      sync.Mutex
	buckets map[string]*slidingWindow
	now     func() time.Time
}

type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

type Option func(*InMemory)

func WithClock(now func() time.Time) Option {
	return func(s *InMemory) { s.now = now }
}

func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{
		buckets: make(map[string]*slidingWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AllowN admits a request of the given cost when the window still has room.
func (s *InMemory) AllowN(_ context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sw, ok := s.buckets[key]
	if !ok || sw.window != window {
		sw = &slidingWindow{window: window}
		s.buckets[key] = sw
	}
	sw.cleanup(now)

	allowed := len(sw.timestamps)+cost <= limit
	if allowed {
		for range cost {
			sw.timestamps = append(sw.timestamps, now)
		}
	}
	resetAt := now.Add(window)
	if len(sw.timestamps) > 0 {
		resetAt = sw.timestamps[0].Add(window)
	}
	result := &models.Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-len(sw.timestamps), 0),
		ResetAt:   resetAt,
	}
	if !allowed {
		result.RetryAfter = models.RetryAfterSeconds(now, resetAt)
	}
	return result, nil
}

// Reset clears the counter for key.
func (s *InMemory) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}
