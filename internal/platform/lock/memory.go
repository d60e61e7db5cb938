package lock

import (
	"context"
	"sync"
)

// Memory hands out one channel semaphore per key. Waiting honours the ctx
// deadline, so a stuck writer surfaces as a timeout instead of a hang.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

func (m *Memory) Acquire(ctx context.Context, keys []string) (func(), error) {
	keys = Normalize(keys)
	acquired := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := m.acquire(ctx, key); err != nil {
			m.releaseAll(acquired)
			return nil, err
		}
		acquired = append(acquired, key)
	}
	var once sync.Once
	return func() { once.Do(func() { m.releaseAll(acquired) }) }, nil
}

func (m *Memory) acquire(ctx context.Context, key string) error {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.unref(key, s)
		return timeoutError(ctx, key)
	}
}

func (m *Memory) releaseAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		m.mu.Lock()
		s := m.slots[keys[i]]
		m.mu.Unlock()
		<-s.sem
		m.unref(keys[i], s)
	}
}

func (m *Memory) unref(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}
