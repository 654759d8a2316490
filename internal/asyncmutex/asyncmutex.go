// Package asyncmutex provides a mutual-exclusion lock whose acquisition
// can be abandoned via a context.Context. It exists because this module
// models every lock acquisition as a scope that must unwind cleanly on
// cancellation (a cancelled waiter must never be left holding, or half
// holding, the lock).
package asyncmutex

import "context"

// Mutex is a non-reentrant mutual-exclusion lock that can be acquired
// with a context, so that a blocked acquisition can be abandoned.
type Mutex struct {
	ch chan struct{}
}

// New returns a ready-to-use Mutex.
func New() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1)}
}

// Lock blocks until the mutex is acquired or ctx is done. On success it
// returns an unlock function that must be called exactly once to release
// the mutex; on failure it returns the context's error.
func (m *Mutex) Lock(ctx context.Context) (unlock func(), err error) {
	select {
	case m.ch <- struct{}{}:
		return m.unlock, nil
	default:
	}
	select {
	case m.ch <- struct{}{}:
		return m.unlock, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the mutex without blocking, returning false if it is
// already held.
func (m *Mutex) TryLock() (unlock func(), ok bool) {
	select {
	case m.ch <- struct{}{}:
		return m.unlock, true
	default:
		return nil, false
	}
}

func (m *Mutex) unlock() {
	select {
	case <-m.ch:
	default:
		panic("asyncmutex: unlock of unlocked mutex")
	}
}
