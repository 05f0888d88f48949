package runner

import (
	"context"
	"sync"
)

// LockRegistry serializes runs that share a session identity. Locks are
// keyed by engine.ResumeToken.LockKey and reference-counted: the map entry
// is deleted when the last holder releases, so the registry never grows
// unbounded across the process's lifetime.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	refs int
	sem  chan struct{}
}

// NewLockRegistry returns an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*sessionLock)}
}

// Acquire blocks until the lock for key is held or ctx is done. The
// returned release function is idempotent and must be called on every exit
// path of the run that acquired it.
func (r *LockRegistry) Acquire(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		r.unref(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-l.sem
			r.unref(key, l)
		})
	}
	return release, nil
}

// unref drops one reference and deletes the entry when none remain.
func (r *LockRegistry) unref(key string, l *sessionLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if l.refs <= 0 {
		delete(r.locks, key)
	}
}

// Len reports the number of live lock keys. Intended for tests.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
