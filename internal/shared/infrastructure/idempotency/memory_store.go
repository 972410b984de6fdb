package idempotency

import (
	"context"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often MemoryStore drops expired keys.
const DefaultCleanupInterval = time.Minute

// MemoryStore is the single-process Store used in local mode and tests.
// A background goroutine evicts expired keys until Close is called.
type MemoryStore struct {
	mu    sync.Mutex
	done  map[string]time.Time
	locks map[string]time.Time
	now   func() time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return newMemoryStore(DefaultCleanupInterval, time.Now)
}

func newMemoryStore(interval time.Duration, now func() time.Time) *MemoryStore {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	s := &MemoryStore{
		done:   make(map[string]time.Time),
		locks:  make(map[string]time.Time),
		now:    now,
		closed: make(chan struct{}),
	}
	go s.cleanupLoop(interval)
	return s
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.closed:
			return
		}
	}
}

// cleanup removes every expired done marker and lock.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, m := range []map[string]time.Time{s.done, s.locks} {
		for key, exp := range m {
			if !now.Before(exp) {
				delete(m, key)
			}
		}
	}
}

// size reports how many keys are held, expired or not.
func (s *MemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done) + len(s.locks)
}

func (s *MemoryStore) IsDone(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(s.done, key), nil
}

func (s *MemoryStore) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(s.locks, key) {
		return false, nil
	}
	s.locks[key] = s.now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

func (s *MemoryStore) MarkDone(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[key] = s.now().Add(ttl)
	return nil
}

// live reports whether key is present and unexpired in m, evicting it otherwise.
// Callers hold s.mu.
func (s *MemoryStore) live(m map[string]time.Time, key string) bool {
	exp, ok := m[key]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(m, key)
		return false
	}
	return true
}
