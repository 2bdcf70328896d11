package workflow

import (
	"path/filepath"
	"sync"
)

// locationLocks serialises stage work on the same song folder across every
// stage and worker of a scheduler. Entries are dropped when unused.
type locationLocks struct {
	mu      sync.Mutex
	entries map[string]*locationEntry
}

type locationEntry struct {
	mu   sync.Mutex
	refs int
}

func newLocationLocks() *locationLocks {
	return &locationLocks{entries: make(map[string]*locationEntry)}
}

// lock blocks until location is free and returns its release func.
func (l *locationLocks) lock(location string) func() {
	key := filepath.Clean(location)

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &locationEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}
