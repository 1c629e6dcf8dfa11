package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST NOT block on channel subscribers; slow ones drop events.
//   - Callback subscribers run synchronously on the publishing goroutine and
//     must hand work off quickly.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Handler is a named-event callback registered with On.
type Handler func(e Event)

// PanicHandler observes a recovered callback panic.
type PanicHandler func(e Event, recovered any)

type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel receiving every event.
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// On registers fn for one event type. The returned func removes it.
	On(eventType string, fn Handler) (unsubscribe func())
}

// New returns a simple in-memory fanout bus. onPanic may be nil.
//
// It intentionally does not own any background goroutines.
func New(onPanic PanicHandler) Bus {
	return &memBus{
		subs:     map[uint64]chan Event{},
		handlers: map[string]map[uint64]Handler{},
		onPanic:  onPanic,
	}
}

type memBus struct {
	mu       sync.RWMutex
	subs     map[uint64]chan Event
	handlers map[string]map[uint64]Handler
	seq      atomic.Uint64
	onPanic  PanicHandler
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot so Publish doesn't hold locks while delivering.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	hs := make([]Handler, 0, len(b.handlers[e.Type]))
	for _, h := range b.handlers[e.Type] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		func() {
			// A concurrent unsubscribe may close ch.
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
	for _, h := range hs {
		b.call(h, e)
	}
}

func (b *memBus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.onPanic != nil {
				b.onPanic(e, r)
				return
			}
			fmt.Printf("eventbus: panic in %s handler: %v\n", e.Type, r)
		}
	}()
	h(e)
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (b *memBus) On(eventType string, fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	m := b.handlers[eventType]
	if m == nil {
		m = map[uint64]Handler{}
		b.handlers[eventType] = m
	}
	m[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[eventType], id)
			if len(b.handlers[eventType]) == 0 {
				delete(b.handlers, eventType)
			}
			b.mu.Unlock()
		})
	}
}
