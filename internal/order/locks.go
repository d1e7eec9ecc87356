package order

import "sync"

// Locks is a keyed mutex giving every order its own critical section.
// Entries are reference counted and removed once nobody holds or waits on them.
type Locks struct {
	mu    sync.Mutex
	locks map[OrderID]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[OrderID]*refLock)}
}

// Lock blocks until the caller owns the order and returns the unlock func.
func (l *Locks) Lock(id OrderID) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &refLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			rl.mu.Unlock()
			l.mu.Lock()
			rl.refs--
			if rl.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of orders currently locked or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
