// Package kvlock provides mutual exclusion keyed by an arbitrary string, so
// operations on the same transaction or device serialize while unrelated
// work proceeds in parallel.
package kvlock

import (
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Manager hands out one mutex per key. Idle mutexes are dropped once the
// last holder releases, so the map does not grow with the key space.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Lock blocks until the key is exclusively held and returns the release
// function. Callers must release on every exit path:
//
//	unlock := locks.Lock("tx-42")
//	defer unlock()
func (m *Manager) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
}
