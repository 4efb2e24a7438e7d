package services

import (
	"log/slog"
	"sync"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// Subscription releases a registration. Calling it more than once is safe.
type Subscription func()

// EventHandler receives the payload of an emitted event. Payloads are not
// validated; handlers decode and check them.
type EventHandler func(payload any)

type handlerEntry struct {
	fn EventHandler
}

// Dispatcher is the in-process pub/sub between hub connections and read
// models.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[domain.EventName][]*handlerEntry
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[domain.EventName][]*handlerEntry),
		logger:   logging.OrNop(logger).With("component", "dispatcher"),
	}
}

// On registers handler for name. Handlers of one event run in
// registration order.
func (d *Dispatcher) On(name domain.EventName, handler EventHandler) Subscription {
	entry := &handlerEntry{fn: handler}

	d.mu.Lock()
	d.handlers[name] = append(d.handlers[name], entry)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(name, entry) })
	}
}

func (d *Dispatcher) remove(name domain.EventName, entry *handlerEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.handlers[name]
	for i, e := range entries {
		if e == entry {
			d.handlers[name] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(d.handlers[name]) == 0 {
		delete(d.handlers, name)
	}
}

// Emit calls every handler registered for name with payload, on the
// calling goroutine. A handler that panics is logged and skipped.
func (d *Dispatcher) Emit(name domain.EventName, payload any) {
	d.mu.RLock()
	entries := d.handlers[name]
	if len(entries) == 0 {
		d.mu.RUnlock()
		return
	}
	snapshot := make([]*handlerEntry, len(entries))
	copy(snapshot, entries)
	d.mu.RUnlock()

	for _, entry := range snapshot {
		d.invoke(name, entry, payload)
	}
}

func (d *Dispatcher) invoke(name domain.EventName, entry *handlerEntry, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogPanic(d.logger, r, "event", string(name))
		}
	}()
	entry.fn(payload)
}

// HandlerCount returns the number of handlers registered for name.
func (d *Dispatcher) HandlerCount(name domain.EventName) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[name])
}
