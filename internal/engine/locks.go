package engine

import "sync"

// userLocks serializes message processing per user. Messages from different
// users proceed in parallel; two messages from the same user are handled one
// at a time in arrival order, which keeps flow-state read/modify/write cycles
// race free without database locking.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// acquire blocks until the caller holds the per-key lock. The returned
// function releases it and drops the map entry when no one else is waiting.
func (l *userLocks) acquire(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &userLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
