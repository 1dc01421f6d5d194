package store

import "sync"

// LockTable serializes work per canonical ID. Merges hold the ID lock
// across their read-modify-write; the retention sweep uses TryLock so an
// event with an in-flight merge is skipped rather than half-purged.
type LockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{entries: make(map[string]*lockEntry)}
}

// Lock acquires the lock for id, blocking until available.
func (t *LockTable) Lock(id string) {
	t.mu.Lock()
	e := t.entries[id]
	if e == nil {
		e = &lockEntry{}
		t.entries[id] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
}

// TryLock acquires the lock for id without blocking. Returns false if
// the lock is held.
func (t *LockTable) TryLock(id string) bool {
	t.mu.Lock()
	e := t.entries[id]
	if e == nil {
		e = &lockEntry{}
		t.entries[id] = e
	}
	e.refs++
	t.mu.Unlock()

	if e.mu.TryLock() {
		return true
	}

	t.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	return false
}

// Unlock releases the lock for id. The entry is dropped once no caller
// references it, so the table stays bounded by in-flight work.
func (t *LockTable) Unlock(id string) {
	t.mu.Lock()
	e := t.entries[id]
	t.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Unlock()

	t.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, id)
	}
	t.mu.Unlock()
}
