package sessions

import (
	"context"
	"sync"
)

// Locker serializes turns per session. A second inbound message for a busy
// session blocks in Acquire until the running turn releases, so turns run
// in arrival order.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker creates a session locker.
func NewLocker() *Locker {
	return &Locker{locks: map[string]*sessionLock{}}
}

// Acquire blocks until the session lock is held or ctx is done. On success
// it returns a release func that must be called exactly once.
func (l *Locker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-lock.ch
				l.unref(sessionID, lock)
			})
		}
		return release, nil
	case <-ctx.Done():
		l.unref(sessionID, lock)
		return nil, ctx.Err()
	}
}

// TryAcquire acquires without waiting; reports false if the session is busy.
func (l *Locker) TryAcquire(sessionID string) (func(), bool) {
	l.mu.Lock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-lock.ch
				l.unref(sessionID, lock)
			})
		}
		return release, true
	default:
		l.unref(sessionID, lock)
		return nil, false
	}
}

// Busy reports whether a turn currently holds the session lock.
func (l *Locker) Busy(sessionID string) bool {
	l.mu.Lock()
	lock, ok := l.locks[sessionID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	return len(lock.ch) > 0
}

func (l *Locker) unref(sessionID string, lock *sessionLock) {
	l.mu.Lock()
	lock.refs--
	if lock.refs <= 0 && len(lock.ch) == 0 {
		delete(l.locks, sessionID)
	}
	l.mu.Unlock()
}
