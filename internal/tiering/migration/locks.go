package migration

import "sync"

// lockTable tracks which record ids have a migration in flight.
// At most one migration may hold a record at a time; losers back off
// instead of queueing, so a stuck migration never piles up waiters.
type lockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]struct{})}
}

// TryAcquire claims the record id. Returns false if already held.
func (l *lockTable) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

// Release frees the record id.
func (l *lockTable) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// Held returns the number of records with a migration in flight.
func (l *lockTable) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
