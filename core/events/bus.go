package events

import "sync"

const defaultSubscriberBuffer = 64

// Bus fans committed events out to live subscribers. Emit never blocks:
// a subscriber that stops draining its channel loses events rather than
// stalling the ledger.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan *Event
	buffer int
}

// NewBus returns a Bus whose subscriber channels hold buffer events.
// A non-positive buffer selects the default.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Bus{subs: make(map[uint64]chan *Event), buffer: buffer}
}

// Emit implements Emitter. Each subscriber receives its own clone.
func (b *Bus) Emit(evt *Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt.Clone():
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel along with
// a cancel function. Cancel closes the channel; callers must stop reading
// after calling it.
func (b *Bus) Subscribe() (<-chan *Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan *Event, b.buffer)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// SubscriberCount reports the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
