package service

import "sync"

// plateLocks is a partitioned lock table keyed by normalized plate. It
// serializes the resolve-classify-update sequence per vehicle identity while
// letting detections for different plates proceed in parallel.
type plateLocks struct {
	mu    sync.Mutex
	locks map[string]*plateLock
}

type plateLock struct {
	mu   sync.Mutex
	refs int
}

func newPlateLocks() *plateLocks {
	return &plateLocks{locks: make(map[string]*plateLock)}
}

// lock acquires the lock for a plate key and returns the release function.
// Entries are dropped from the table once the last holder releases.
func (l *plateLocks) lock(key string) func() {
	l.mu.Lock()
	pl, ok := l.locks[key]
	if !ok {
		pl = &plateLock{}
		l.locks[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()

	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
