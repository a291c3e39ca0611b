// Package dispatch routes decoded protocol events from the connection
// layer to interested subscribers. Handlers register per event type or
// for every event; a malformed inbound frame is logged and dropped
// without disturbing other subscribers or subsequent frames.
package dispatch

import (
	"log"
	"sync"

	"github.com/wpagent/workbench/internal/protocol"
)

// anyEventBufferSize bounds the channel handed to SubscribeAll
// consumers. A consumer that falls this far behind starts losing
// events rather than blocking dispatch.
const anyEventBufferSize = 256

// Handler receives a decoded event. Handlers run synchronously on the
// dispatch goroutine and must not block.
type Handler func(protocol.Event)

// Unsubscribe removes a previously registered handler or channel.
// Calling it more than once is harmless.
type Unsubscribe func()

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is a typed publish/subscribe fanout for protocol events.
// The zero value is not usable; construct with NewBus.
type Bus struct {
	mu     sync.Mutex
	nextID uint64

	// byType holds handlers keyed by the event type they asked for.
	byType map[protocol.EventType][]subscriber

	// anyChans receive every event regardless of type.
	anyChans map[uint64]chan protocol.Event

	// dropped counts events discarded because an any-event channel
	// was full, plus frames that failed to decode.
	droppedEvents uint64
	decodeErrors  uint64
}

// NewBus returns an empty bus ready for subscriptions.
func NewBus() *Bus {
	return &Bus{
		byType:   make(map[protocol.EventType][]subscriber),
		anyChans: make(map[uint64]chan protocol.Event),
	}
}

// Subscribe registers a handler for a single event type. The returned
// function removes the registration.
func (b *Bus) Subscribe(t protocol.EventType, h Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.byType[t] = append(b.byType[t], subscriber{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.byType[t]
		for i, s := range subs {
			if s.id == id {
				b.byType[t] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll returns a channel that receives every event published
// on the bus. The channel is buffered; if the consumer falls behind,
// events are dropped for that consumer only. The returned function
// closes the channel and removes the registration.
func (b *Bus) SubscribeAll() (<-chan protocol.Event, Unsubscribe) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan protocol.Event, anyEventBufferSize)
	b.anyChans[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.anyChans[id]; ok {
				delete(b.anyChans, id)
				close(c)
			}
		})
	}
}

// Publish delivers an already-decoded event to all matching
// subscribers. Typed handlers run first, then any-event channels.
func (b *Bus) Publish(ev protocol.Event) {
	b.mu.Lock()
	subs := append([]subscriber(nil), b.byType[ev.Type()]...)
	chans := make([]chan protocol.Event, 0, len(b.anyChans))
	for _, c := range b.anyChans {
		chans = append(chans, c)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.handler(ev)
	}
	for _, c := range chans {
		select {
		case c <- ev:
		default:
			b.mu.Lock()
			b.droppedEvents++
			b.mu.Unlock()
		}
	}
}

// Dispatch decodes a raw inbound frame and publishes the result. A
// frame that fails to decode is counted and logged; it never stops
// later frames from being processed. Frames with an unknown type
// decode to an Unrecognized event and are published like any other.
func (b *Bus) Dispatch(raw []byte) {
	ev, err := protocol.Decode(raw)
	if err != nil {
		b.mu.Lock()
		b.decodeErrors++
		n := b.decodeErrors
		b.mu.Unlock()
		log.Printf("[dispatch] dropping malformed frame (%d total): %v", n, err)
		return
	}
	b.Publish(ev)
}

// DecodeErrors reports how many inbound frames failed to decode.
func (b *Bus) DecodeErrors() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decodeErrors
}

// DroppedEvents reports how many events were discarded because an
// any-event subscriber's channel was full.
func (b *Bus) DroppedEvents() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.droppedEvents
}
