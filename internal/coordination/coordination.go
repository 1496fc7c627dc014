// Package coordination provides the per-portfolio serialization lock and
// the single-run sentinel for the NAV refresh engine, per spec §4.6/§5.
// All Position mutations for a given portfolio pass through the Locker so
// that two BUYs and a SELL against the same holding linearize; readers
// never take the lock and may observe a value slightly behind the latest
// commit.
package coordination

import "sync"

// Locker hands out one *sync.Mutex per key, created lazily and kept for
// the lifetime of the process. It never removes entries — the number of
// distinct portfolios is small relative to a long-running process, and
// removing a mutex that a blocked goroutine is about to lock is unsafe
// without additional refcounting.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, blocking until available, and returns
// an unlock function. Typical use:
//
//	unlock := locker.Lock(portfolioID)
//	defer unlock()
func (l *Locker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// RefreshSentinel prevents two NAV refresh runs from executing
// concurrently (spec §4.4, §4.7: "idle -> running -> idle").
type RefreshSentinel struct {
	mu      sync.Mutex
	running bool
}

// NewRefreshSentinel creates an idle sentinel.
func NewRefreshSentinel() *RefreshSentinel {
	return &RefreshSentinel{}
}

// TryAcquire attempts to transition idle -> running. It returns false
// without blocking if a run is already in progress.
func (s *RefreshSentinel) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

// Release transitions running -> idle. Callers must pair every successful
// TryAcquire with exactly one Release, typically via defer.
func (s *RefreshSentinel) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// IsRunning reports whether a refresh run currently holds the sentinel.
func (s *RefreshSentinel) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
