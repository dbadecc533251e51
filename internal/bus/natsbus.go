package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/example/chat-gateway/internal/otelutil"
)

const subjectPrefix = "room.events."

// NATSBus implements Bus on core NATS subjects, one subject per room. Every
// gateway process subscribed to a room receives each event once; there is no
// queue group because fan-out needs every process, not one of them.
type NATSBus struct {
	nc   *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{
		nc:   nc,
		subs: make(map[string]*nats.Subscription),
	}
}

func (b *NATSBus) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return otelutil.TracedPublish(ctx, b.nc, subjectPrefix+evt.Room, data)
}

func (b *NATSBus) Subscribe(room string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[room]; ok {
		return nil
	}
	sub, err := b.nc.Subscribe(subjectPrefix+room, func(msg *nats.Msg) {
		_, span := otelutil.StartConsumerSpan(context.Background(), msg, "room event deliver")
		defer span.End()

		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			slog.Warn("Invalid room event on bus", "subject", msg.Subject, "error", err)
			return
		}
		h(evt)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectPrefix+room, err)
	}
	b.subs[room] = sub
	return nil
}

func (b *NATSBus) Unsubscribe(room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[room]
	if !ok {
		return nil
	}
	delete(b.subs, room)
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", subjectPrefix+room, err)
	}
	return nil
}

func (b *NATSBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for room, sub := range b.subs {
		sub.Unsubscribe()
		delete(b.subs, room)
	}
}
