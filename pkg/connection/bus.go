package connection

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives bus events. Handlers run on their own goroutine and
// must not assume any ordering relative to other handlers.
type Handler func(Event)

// Subscription identifies one registration made with Subscribe.
// The zero value matches no registration.
type Subscription struct {
	kind EventKind
	id   uint64
}

// Kind returns the event kind the subscription listens to.
func (s Subscription) Kind() EventKind {
	return s.kind
}

// Subscriber is the part of the bus observers need.
type Subscriber interface {
	Subscribe(kind EventKind, handler Handler) Subscription
	Unsubscribe(sub Subscription)
}

type registration struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to subscribers without waiting for them.
//
// Handlers for an event kind are scheduled in subscription order, each on
// a new goroutine. A handler that panics is recovered and logged.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventKind][]registration
	nextID   uint64

	// init re-registers internal listeners after Clear.
	init func(*Bus)

	seq      atomic.Uint64
	inflight sync.WaitGroup
	logger   *slog.Logger
}

// NewBus creates an empty bus. A nil logger disables logging.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		handlers: make(map[EventKind][]registration),
		logger:   logger,
	}
}

// Subscribe registers handler for kind. Registering the same handler
// twice yields two independent subscriptions.
func (b *Bus) Subscribe(kind EventKind, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[kind] = append(b.handlers[kind], registration{id: b.nextID, handler: handler})
	return Subscription{kind: kind, id: b.nextID}
}

// SubscribeOnce would register a handler that fires at most once.
// Disposable subscriptions are not supported.
func (b *Bus) SubscribeOnce(kind EventKind, handler Handler) (Subscription, error) {
	return Subscription{}, ErrUnsupportedOperation
}

// Unsubscribe removes the registration. Unknown or already removed
// subscriptions are logged and ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[sub.kind]
	for i, r := range regs {
		if r.id == sub.id {
			b.handlers[sub.kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
	b.logger.Warn("unsubscribe: no such subscription", "kind", sub.kind, "id", sub.id)
}

// Clear removes every subscription, then restores the bus's internal
// listeners.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.handlers = make(map[EventKind][]registration)
	init := b.init
	b.mu.Unlock()

	if init != nil {
		init(b)
	}
}

// Len returns the number of registrations for kind.
func (b *Bus) Len(kind EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Publish stamps the event with a sequence number and time and schedules
// every handler registered for its kind. It does not wait for them.
func (b *Bus) Publish(event Event) {
	event.Seq = b.seq.Add(1)
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	regs := b.handlers[event.Kind]
	b.mu.RUnlock()

	for _, r := range regs {
		b.inflight.Add(1)
		go b.dispatch(r.handler, event)
	}
}

func (b *Bus) dispatch(handler Handler, event Event) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "kind", event.Kind, "seq", event.Seq, "panic", r)
		}
	}()
	handler(event)
}

// Wait blocks until every handler scheduled so far, including handlers
// scheduled by those handlers, has returned.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

var _ Subscriber = (*Bus)(nil)
