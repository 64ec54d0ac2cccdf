// Package event provides the listener bus shared by the project registry and
// the architecture indexer.
//
// Publishers enqueue events while holding their own locks and flush after
// releasing them. Flushing delivers queued events in enqueue order, one
// goroutine at a time, without holding any bus lock, so listeners may
// re-enter the publisher.
package event

import (
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("springls.event")

// Listener receives events of type T. Implementations must be comparable
// (pointer receivers) because registration is idempotent per identity.
type Listener[T any] interface {
	Notify(ev T)
}

type funcListener[T any] struct {
	fn func(T)
}

func (f *funcListener[T]) Notify(ev T) { f.fn(ev) }

// Func adapts fn to a Listener. Each call returns a distinct identity; keep
// the result to remove it later.
func Func[T any](fn func(T)) Listener[T] {
	return &funcListener[T]{fn: fn}
}

// Bus is an ordered fan-out of events to a set of listeners.
type Bus[T any] struct {
	listenersMu sync.Mutex
	listeners   []Listener[T]

	queueMu  sync.Mutex
	queue    []T
	draining bool
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Add registers l. Adding the same listener twice is a no-op.
func (b *Bus[T]) Add(l Listener[T]) {
	if l == nil {
		return
	}
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	for _, existing := range b.listeners {
		if existing == l {
			return
		}
	}
	b.listeners = append(b.listeners, l)
}

// Remove unregisters l. Removing an unknown listener is a no-op.
func (b *Bus[T]) Remove(l Listener[T]) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	for i, existing := range b.listeners {
		if existing == l {
			// copy so snapshots held by a draining goroutine stay intact
			next := make([]Listener[T], 0, len(b.listeners)-1)
			next = append(next, b.listeners[:i]...)
			next = append(next, b.listeners[i+1:]...)
			b.listeners = next
			return
		}
	}
}

// Len reports the number of registered listeners.
func (b *Bus[T]) Len() int {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	return len(b.listeners)
}

// Enqueue appends ev to the delivery queue without delivering it.
func (b *Bus[T]) Enqueue(ev T) {
	b.queueMu.Lock()
	b.queue = append(b.queue, ev)
	b.queueMu.Unlock()
}

// Flush delivers every queued event. If another goroutine is already
// delivering, Flush returns immediately and that goroutine delivers the
// events enqueued here as well.
func (b *Bus[T]) Flush() {
	b.queueMu.Lock()
	if b.draining {
		b.queueMu.Unlock()
		return
	}
	b.draining = true
	for len(b.queue) > 0 {
		ev := b.queue[0]
		b.queue[0] = *new(T)
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		b.deliver(ev)

		b.queueMu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.queueMu.Unlock()
}

// Publish is Enqueue followed by Flush.
func (b *Bus[T]) Publish(ev T) {
	b.Enqueue(ev)
	b.Flush()
}

func (b *Bus[T]) snapshot() []Listener[T] {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	return b.listeners
}

func (b *Bus[T]) deliver(ev T) {
	for _, l := range b.snapshot() {
		notify(l, ev)
	}
}

// notify isolates the bus from a panicking listener.
func notify[T any](l Listener[T], ev T) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("listener %T panicked: %v", l, r)
		}
	}()
	l.Notify(ev)
}
