// Package reconcile keeps the local progress cache and the remote progress
// store in agreement. It owns the per-scope write lock every writer shares.
package reconcile

import (
	"sync"

	"github.com/learnpath/learnpath/internal/domain/progress"
)

// ScopeLocks serializes writers of one scope and tracks a per-scope generation.
// The generation changes whenever local state is written or a scope is torn down,
// so an in-flight reconciliation can tell that its view is out of date.
type ScopeLocks struct {
	mu          sync.Mutex
	locks       map[progress.ScopeID]*scopeLock
	generations map[progress.ScopeID]uint64
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

// NewScopeLocks creates an empty lock table.
func NewScopeLocks() *ScopeLocks {
	return &ScopeLocks{
		locks:       make(map[progress.ScopeID]*scopeLock),
		generations: make(map[progress.ScopeID]uint64),
	}
}

// Lock blocks until the scope is free and returns its unlock function.
func (l *ScopeLocks) Lock(scope progress.ScopeID) (unlock func()) {
	scope = scope.Normalize()

	l.mu.Lock()
	sl, ok := l.locks[scope]
	if !ok {
		sl = &scopeLock{}
		l.locks[scope] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sl.mu.Unlock()

			l.mu.Lock()
			sl.refs--
			if sl.refs == 0 {
				delete(l.locks, scope)
			}
			l.mu.Unlock()
		})
	}
}

// Generation returns the scope's current generation.
func (l *ScopeLocks) Generation(scope progress.ScopeID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generations[scope.Normalize()]
}

// Bump advances the scope's generation and returns the new value.
func (l *ScopeLocks) Bump(scope progress.ScopeID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	scope = scope.Normalize()
	l.generations[scope]++
	return l.generations[scope]
}
