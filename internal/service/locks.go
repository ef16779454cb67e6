package service

import (
	"sort"
	"sync"
)

// accountLocks hands out one mutex per account id. Entries are reference counted
// and dropped once nobody holds or waits for them.
type accountLocks struct {
	mu    sync.Mutex
	locks map[int64]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[int64]*accountLock)}
}

// Lock acquires the locks for ids in ascending order and returns a func releasing them.
// Duplicate ids are locked once.
func (l *accountLocks) Lock(ids ...int64) func() {
	ordered := lockOrder(ids)

	held := make([]*accountLock, 0, len(ordered))
	for _, id := range ordered {
		held = append(held, l.acquire(id))
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(ordered[i])
		}
	}
}

func (l *accountLocks) acquire(id int64) *accountLock {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &accountLock{}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (l *accountLocks) release(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock := l.locks[id]
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}

// size is the number of live lock entries.
func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// lockOrder returns the distinct ids sorted ascending.
func lockOrder(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
