package events

import (
	"sync"
)

// =============================================================================
// Bus — per-session event delivery
// =============================================================================

// Bus fans events out to subscribers over buffered channels. Publishing never
// blocks the emitting turn: events are queued on an internal buffer and
// dropped when a subscriber cannot keep up. Ordering is preserved per
// subscriber as long as its channel has capacity.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*Subscription
	nextID      int

	buffer chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Subscription is a live event feed. Events arrive on C until Cancel is
// called or the bus closes, at which point C is closed.
type Subscription struct {
	C <-chan Event

	id     int
	ch     chan Event
	types  map[Type]struct{}
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

func (s *Subscription) wants(eventType Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// NewBus creates a bus with the given internal buffer size and starts its
// dispatch goroutine.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &Bus{
		subscribers: make(map[int]*Subscription),
		buffer:      make(chan Event, bufferSize),
		done:        make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Subscribe registers a subscriber for the given event types. No types means
// all events.
func (b *Bus) Subscribe(types ...Type) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	sub := &Subscription{
		C:  ch,
		ch: ch,
	}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	if b.closed {
		close(ch)
		sub.cancel = func() {}
		return sub
	}

	id := b.nextID
	b.nextID++
	sub.id = id
	sub.cancel = func() { b.unsubscribe(id) }
	b.subscribers[id] = sub
	return sub
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)
}

// Publish queues an event for delivery. Non-blocking; drops the event when
// the internal buffer is full or the bus is closed.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	select {
	case b.buffer <- event:
	default:
		// Buffer full, drop.
	}
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.buffer:
			b.deliver(event)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Slow subscriber, drop for this subscriber only.
		}
	}
}

// Close shuts down dispatch and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[int]*Subscription)
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()

	for _, sub := range subs {
		close(sub.ch)
	}
}
