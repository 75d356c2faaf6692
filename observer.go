package chanstore

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
)

// ChangeEvent describes a change made by a peer replica. A nil OldValue or
// NewValue means the key was absent before or after the change. An empty
// Key means the peer cleared the whole store.
type ChangeEvent struct {
	Key      string
	OldValue *string
	NewValue *string
	URL      string
}

// Cleared reports whether the event stands for a full clear.
func (e ChangeEvent) Cleared() bool { return e.Key == "" }

// Listener receives ChangeEvents. Listeners are matched by identity, so
// implementations should use pointer receivers.
type Listener interface {
	HandleChange(ChangeEvent)
}

type funcListener struct {
	fn func(ChangeEvent)
}

func (l *funcListener) HandleChange(e ChangeEvent) { l.fn(e) }

type observers struct {
	mu        sync.Mutex
	listeners []Listener
	closed    atomic.Bool
	logger    *slog.Logger
}

func newObservers(logger *slog.Logger) *observers {
	return &observers{logger: logger}
}

// add registers l once; adding the same listener again is a no-op.
func (o *observers) add(l Listener) error {
	if l == nil {
		return fmt.Errorf("chanstore: listener cannot be nil")
	}
	if !reflect.TypeOf(l).Comparable() {
		return ErrListenerNotComparable
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.listeners {
		if existing == l {
			return nil
		}
	}
	o.listeners = append(o.listeners, l)
	return nil
}

func (o *observers) remove(l Listener) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.listeners {
		if existing == l {
			o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
			return
		}
	}
}

// close drops every listener. No listener call starts after it returns.
func (o *observers) close() {
	o.closed.Store(true)
	o.mu.Lock()
	o.listeners = nil
	o.mu.Unlock()
}

// notify calls every listener registered at the time of the call, in
// registration order. A panicking listener is logged and skipped.
func (o *observers) notify(e ChangeEvent) {
	o.mu.Lock()
	listeners := append([]Listener(nil), o.listeners...)
	o.mu.Unlock()

	for _, l := range listeners {
		if o.closed.Load() {
			return
		}
		o.call(l, e)
	}
}

func (o *observers) call(l Listener, e ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("listener panicked",
				slog.String("key", e.Key),
				slog.Any("panic", r))
		}
	}()
	l.HandleChange(e)
}

func stringPtr(s string) *string { return &s }
