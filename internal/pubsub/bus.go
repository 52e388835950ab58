package pubsub

import (
	"log/slog"
	"sync"

	"github.com/samsheff/fade-marketdata/internal/model"
)

// Handler consumes events delivered on a channel. Handlers run on the
// publisher's goroutine and must not block.
type Handler func(ev model.Event)

// Bus is a channel-keyed fan-out registry. The per-channel subscriber
// list is the one structure touched by multiple producers, so all access
// goes through the mutex.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	chans  map[string]*channelState
}

// channelState holds the subscribers of one channel in registration order.
type channelState struct {
	order    []uint64
	handlers map[uint64]Handler
}

// Subscription is the cancellation capability returned by Subscribe.
type Subscription struct {
	bus     *Bus
	channel string
	id      uint64
	once    sync.Once
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		chans:  make(map[string]*channelState),
	}
}

// Subscribe registers fn for a channel. Channels are created implicitly
// on first subscribe.
func (b *Bus) Subscribe(channel string, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	cs, ok := b.chans[channel]
	if !ok {
		cs = &channelState{handlers: make(map[uint64]Handler)}
		b.chans[channel] = cs
	}
	cs.order = append(cs.order, id)
	cs.handlers[id] = fn

	return &Subscription{bus: b, channel: channel, id: id}
}

// Publish delivers ev to every current subscriber of channel, in
// registration order. Delivery is synchronous; for a single
// (channel, subscriber) pair, delivery order equals publish order.
func (b *Bus) Publish(channel string, ev model.Event) {
	b.mu.Lock()
	cs, ok := b.chans[channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	// Snapshot under the lock, dispatch outside it. A cancel that lands
	// after this point may still observe this one delivery.
	handlers := make([]Handler, 0, len(cs.order))
	for _, id := range cs.order {
		if fn, ok := cs.handlers[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		b.dispatch(channel, fn, ev)
	}
}

// dispatch invokes one handler, isolating panics.
func (b *Bus) dispatch(channel string, fn Handler, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"channel", channel,
				"kind", ev.Kind,
				"panic", r,
			)
		}
	}()
	fn(ev)
}

// SubscriberCount returns the number of live subscribers on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.chans[channel]
	if !ok {
		return 0
	}
	return len(cs.handlers)
}

// Cancel deregisters the subscription. Idempotent; future dispatches
// will not observe the handler.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()

		cs, ok := b.chans[s.channel]
		if !ok {
			return
		}
		delete(cs.handlers, s.id)
		for i, id := range cs.order {
			if id == s.id {
				cs.order = append(cs.order[:i], cs.order[i+1:]...)
				break
			}
		}
		if len(cs.handlers) == 0 {
			delete(b.chans, s.channel)
		}
	})
}
