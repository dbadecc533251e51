package bus

import (
	"context"
	"sync"
)

// Broker is an in-process stand-in for the shared messaging channel. Each
// InprocBus handle attached to it behaves like one gateway process's bus
// connection, so tests can exercise cross-process fan-out on one logical
// channel. It also backs single-process dev runs without a broker.
type Broker struct {
	mu    sync.Mutex
	buses map[*InprocBus]struct{}
}

func NewBroker() *Broker {
	return &Broker{buses: make(map[*InprocBus]struct{})}
}

// Bus returns a new handle representing one process's view of the channel.
func (br *Broker) Bus() *InprocBus {
	b := &InprocBus{broker: br, handlers: make(map[string]Handler)}
	br.mu.Lock()
	br.buses[b] = struct{}{}
	br.mu.Unlock()
	return b
}

func (br *Broker) dispatch(evt Event) {
	br.mu.Lock()
	var targets []Handler
	for b := range br.buses {
		b.mu.Lock()
		if h, ok := b.handlers[evt.Room]; ok {
			targets = append(targets, h)
		}
		b.mu.Unlock()
	}
	br.mu.Unlock()

	// Handlers run outside the locks so they may publish in turn. Dispatch is
	// synchronous, which preserves FIFO order for a single publisher.
	for _, h := range targets {
		h(evt)
	}
}

// InprocBus implements Bus against a Broker.
type InprocBus struct {
	broker   *Broker
	mu       sync.Mutex
	handlers map[string]Handler
}

func (b *InprocBus) Publish(_ context.Context, evt Event) error {
	b.broker.dispatch(evt)
	return nil
}

func (b *InprocBus) Subscribe(room string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[room]; ok {
		return nil
	}
	b.handlers[room] = h
	return nil
}

func (b *InprocBus) Unsubscribe(room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, room)
	return nil
}

func (b *InprocBus) Close() {
	b.mu.Lock()
	b.handlers = make(map[string]Handler)
	b.mu.Unlock()

	b.broker.mu.Lock()
	delete(b.broker.buses, b)
	b.broker.mu.Unlock()
}
