package governor

import "sync"

// Latest holds the most recent value of something that changes after the
// readers holding it were set up. Readers always observe the last Set.
type Latest[T any] struct {
	mu sync.RWMutex
	v  T
}

func NewLatest[T any](v T) *Latest[T] {
	return &Latest[T]{v: v}
}

func (l *Latest[T]) Set(v T) {
	l.mu.Lock()
	l.v = v
	l.mu.Unlock()
}

func (l *Latest[T]) Load() T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.v
}
