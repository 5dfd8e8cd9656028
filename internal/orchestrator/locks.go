package orchestrator

import "sync"

// lockMap hands out one mutex per id so mutations of the same
// session/task serialize while unrelated ids proceed in parallel.
// Entries are reference-counted and removed when released.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func newLockMap() *lockMap {
	return &lockMap{locks: make(map[string]*idLock)}
}

// lock acquires the id's mutex and returns its release func.
func (lm *lockMap) lock(id string) func() {
	lm.mu.Lock()
	l, ok := lm.locks[id]
	if !ok {
		l = &idLock{}
		lm.locks[id] = l
	}
	l.refs++
	lm.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		lm.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(lm.locks, id)
		}
		lm.mu.Unlock()
	}
}

// size reports how many ids currently hold or wait on a lock.
func (lm *lockMap) size() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}
