package services

import "sync"

// listeners is an ordered set of snapshot subscribers.
type listeners[T any] struct {
	mu      sync.Mutex
	entries []*listenerEntry[T]
}

type listenerEntry[T any] struct {
	fn func(T)
}

func (l *listeners[T]) add(fn func(T)) Subscription {
	entry := &listenerEntry[T]{fn: fn}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, e := range l.entries {
				if e == entry {
					l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners[T]) notify(value T) {
	l.mu.Lock()
	entries := make([]*listenerEntry[T], len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	for _, e := range entries {
		e.fn(value)
	}
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
