package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/example/chat-gateway/internal/bus"
	"github.com/example/chat-gateway/internal/presence"
)

// MaxMessageRunes is the chat payload limit in code points. Longer input is
// silently truncated, never rejected.
const MaxMessageRunes = 2000

var (
	// ErrNotJoined rejects a send to a room the connection never joined. This
	// is an explicit error, not a silent drop.
	ErrNotJoined = errors.New("not joined to room")
	// ErrBadRoom rejects room ids that cannot live in store keys or bus
	// subjects.
	ErrBadRoom = errors.New("invalid room id")
)

// Relay composes the presence store and the broadcast bus into the
// join/leave/send/heartbeat/disconnect semantics of the gateway. Store and
// bus failures are caught here and degrade the affected feature to a local
// best effort; they never terminate a connection.
type Relay struct {
	reg   *Registry
	store presence.Store
	bus   bus.Bus

	connectCounter   metric.Int64Counter
	joinCounter      metric.Int64Counter
	leaveCounter     metric.Int64Counter
	messageCounter   metric.Int64Counter
	heartbeatCounter metric.Int64Counter
	deliverCounter   metric.Int64Counter
}

func NewRelay(reg *Registry, store presence.Store, b bus.Bus) *Relay {
	meter := otel.Meter("chat-gateway")
	connectCounter, _ := meter.Int64Counter("gateway_connections_total",
		metric.WithDescription("Total websocket connections accepted"))
	joinCounter, _ := meter.Int64Counter("gateway_room_joins_total",
		metric.WithDescription("Total room joins handled by this process"))
	leaveCounter, _ := meter.Int64Counter("gateway_room_leaves_total",
		metric.WithDescription("Total room leaves handled by this process"))
	messageCounter, _ := meter.Int64Counter("gateway_messages_relayed_total",
		metric.WithDescription("Total chat messages published to the bus"))
	heartbeatCounter, _ := meter.Int64Counter("gateway_heartbeats_total",
		metric.WithDescription("Total heartbeats received"))
	deliverCounter, _ := meter.Int64Counter("gateway_local_deliveries_total",
		metric.WithDescription("Total events delivered to locally attached clients"))

	return &Relay{
		reg:              reg,
		store:            store,
		bus:              b,
		connectCounter:   connectCounter,
		joinCounter:      joinCounter,
		leaveCounter:     leaveCounter,
		messageCounter:   messageCounter,
		heartbeatCounter: heartbeatCounter,
		deliverCounter:   deliverCounter,
	}
}

// Connect registers a freshly handshaken connection and marks its identity
// online.
func (r *Relay) Connect(ctx context.Context, c *Client) error {
	if err := r.reg.Register(c, c.identity); err != nil {
		return err
	}
	r.connectCounter.Add(ctx, 1)
	if err := r.store.MarkOnline(ctx, c.identity); err != nil {
		// Presence degrades; the connection itself stays up.
		slog.Warn("Presence store unavailable on connect", "user", c.identity, "error", err)
	}
	return nil
}

// Join adds the connection to a room locally and in the shared store, wires
// the per-process bus subscription on the first local joiner, and publishes
// the refreshed roster to every process.
func (r *Relay) Join(ctx context.Context, c *Client, room string) error {
	if !presence.ValidKey(room) {
		return ErrBadRoom
	}
	newly, local, err := r.reg.JoinRoom(c, room)
	if err != nil {
		return err
	}
	// local comes from the same lock as the join itself, so exactly one of
	// any set of concurrent first joiners sees 1 and subscribes.
	if newly && local == 1 {
		if err := r.bus.Subscribe(room, r.deliver); err != nil {
			slog.Warn("Bus subscribe failed, falling back to local delivery", "room", room, "error", err)
		}
	}

	r.markActive(ctx, c.identity)
	if err := r.store.AddMember(ctx, room, c.identity); err != nil {
		slog.Warn("Presence store unavailable on join", "room", room, "user", c.identity, "error", err)
	}
	r.joinCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("room", room)))
	slog.Debug("User joined room", "room", room, "user", c.identity, "conn", c.id)

	r.publishRoster(ctx, room)
	return nil
}

// Leave is the inverse of Join. The refreshed roster is always published,
// even when the membership set is now empty.
func (r *Relay) Leave(ctx context.Context, c *Client, room string) error {
	if !presence.ValidKey(room) {
		return ErrBadRoom
	}
	left, local, err := r.reg.LeaveRoom(c, room)
	if err != nil {
		return err
	}
	if left && local == 0 {
		if err := r.bus.Unsubscribe(room); err != nil {
			slog.Warn("Bus unsubscribe failed", "room", room, "error", err)
		}
	}

	r.markActive(ctx, c.identity)
	if err := r.store.RemoveMember(ctx, room, c.identity); err != nil {
		slog.Warn("Presence store unavailable on leave", "room", room, "user", c.identity, "error", err)
	}
	r.leaveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("room", room)))
	slog.Debug("User left room", "room", room, "user", c.identity, "conn", c.id)

	r.publishRoster(ctx, room)
	return nil
}

// Send validates and relays a chat message to every process subscribed to
// the room. Text beyond MaxMessageRunes is truncated silently.
func (r *Relay) Send(ctx context.Context, c *Client, room, text string) error {
	if !presence.ValidKey(room) {
		return ErrBadRoom
	}
	if !r.reg.Joined(c, room) {
		return ErrNotJoined
	}

	r.markActive(ctx, c.identity)
	text = truncateRunes(text, MaxMessageRunes)

	payload, err := encodePayload(ChatOutbound{RoomID: room, UserID: c.identity, Text: text})
	if err != nil {
		return err
	}
	evt := bus.Event{Room: room, Kind: bus.KindMessage, Payload: payload}
	r.messageCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("room", room)))
	if err := r.bus.Publish(ctx, evt); err != nil {
		// Bus down: the message still reaches everyone attached to this
		// process.
		slog.Warn("Bus publish failed, delivering to local members only", "room", room, "error", err)
		r.deliver(evt)
	}
	return nil
}

// Heartbeat refreshes the identity's liveness record. No room interaction.
func (r *Relay) Heartbeat(ctx context.Context, c *Client) {
	r.heartbeatCounter.Add(ctx, 1)
	if err := r.store.MarkOnline(ctx, c.identity); err != nil {
		slog.Warn("Presence store unavailable on heartbeat", "user", c.identity, "error", err)
	}
}

// Disconnect runs the cleanup cascade for a closed transport: unregister,
// then leave semantics for every room the connection had joined.
func (r *Relay) Disconnect(ctx context.Context, c *Client) {
	rooms := r.reg.Unregister(c)
	for room, remaining := range rooms {
		if remaining == 0 {
			if err := r.bus.Unsubscribe(room); err != nil {
				slog.Warn("Bus unsubscribe failed on disconnect", "room", room, "error", err)
			}
		}
		if err := r.store.RemoveMember(ctx, room, c.identity); err != nil {
			slog.Warn("Presence store unavailable on disconnect", "room", room, "user", c.identity, "error", err)
		}
		r.publishRoster(ctx, room)
	}
	if len(rooms) > 0 {
		slog.Debug("Disconnect cascade complete", "user", c.identity, "conn", c.id, "rooms", len(rooms))
	}
}

// markActive refreshes liveness on any room activity, not just explicit
// heartbeats.
func (r *Relay) markActive(ctx context.Context, identity string) {
	if err := r.store.MarkOnline(ctx, identity); err != nil {
		slog.Warn("Presence store unavailable on activity refresh", "user", identity, "error", err)
	}
}

// publishRoster reads the room's membership snapshot and fans it out. When
// the store is unreachable the roster degrades to the locally known members
// instead of being suppressed.
func (r *Relay) publishRoster(ctx context.Context, room string) {
	users, err := r.store.Members(ctx, room)
	if err != nil {
		slog.Warn("Presence store unavailable for roster, using local members", "room", room, "error", err)
		users = r.reg.LocalIdentities(room)
	}
	if users == nil {
		users = []string{}
	}

	payload, err := encodePayload(RoomUsersPayload{RoomID: room, Users: users})
	if err != nil {
		slog.Warn("Failed to encode roster payload", "room", room, "error", err)
		return
	}
	evt := bus.Event{Room: room, Kind: bus.KindRoster, Payload: payload}
	if err := r.bus.Publish(ctx, evt); err != nil {
		slog.Warn("Bus publish failed for roster, delivering locally", "room", room, "error", err)
		r.deliver(evt)
	}
}

// deliver is the bus handler: it maps a bus event to an outbound frame and
// enqueues it on every locally attached connection joined to the room.
func (r *Relay) deliver(evt bus.Event) {
	var event string
	switch evt.Kind {
	case bus.KindRoster:
		event = EventRoomUsers
	case bus.KindMessage:
		event = EventChatMessage
	default:
		slog.Warn("Unknown event kind on bus", "kind", evt.Kind, "room", evt.Room)
		return
	}

	frame, err := json.Marshal(Frame{Event: event, Data: evt.Payload})
	if err != nil {
		slog.Warn("Failed to encode outbound frame", "event", event, "error", err)
		return
	}

	members := r.reg.LocalMembers(evt.Room)
	for _, c := range members {
		if !c.enqueue(frame) {
			slog.Debug("Dropped frame for slow client", "conn", c.id, "user", c.identity, "room", evt.Room)
		}
	}
	if len(members) > 0 {
		r.deliverCounter.Add(context.Background(), int64(len(members)),
			metric.WithAttributes(attribute.String("kind", evt.Kind)))
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func encodePayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
