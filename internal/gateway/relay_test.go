package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/example/chat-gateway/internal/bus"
	"github.com/example/chat-gateway/internal/presence"
)

// drainFrames empties the client's send buffer and decodes every frame.
func drainFrames(t *testing.T, c *Client) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case raw := <-c.send:
			var f Frame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("Undecodable frame %q: %v", raw, err)
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func lastRoster(t *testing.T, frames []Frame) RoomUsersPayload {
	t.Helper()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event == EventRoomUsers {
			var p RoomUsersPayload
			if err := json.Unmarshal(frames[i].Data, &p); err != nil {
				t.Fatalf("Undecodable roster payload: %v", err)
			}
			return p
		}
	}
	t.Fatal("No room_users frame delivered")
	return RoomUsersPayload{}
}

func newTestRelay(store presence.Store, b bus.Bus) *Relay {
	return NewRelay(NewRegistry(), store, b)
}

func connect(t *testing.T, r *Relay, identity string) *Client {
	t.Helper()
	c := newClient(nil, identity)
	if err := r.Connect(context.Background(), c); err != nil {
		t.Fatalf("Connect failed for %s: %v", identity, err)
	}
	return c
}

func TestJoinPublishesRoster(t *testing.T) {
	ctx := context.Background()
	store := presence.NewMemoryStore()
	broker := bus.NewBroker()
	relay := newTestRelay(store, broker.Bus())

	c1 := connect(t, relay, "u1")
	if err := relay.Join(ctx, c1, "r1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	roster := lastRoster(t, drainFrames(t, c1))
	if roster.RoomID != "r1" || len(roster.Users) != 1 || roster.Users[0] != "u1" {
		t.Errorf("Expected roster [u1] for r1, got %+v", roster)
	}

	c2 := connect(t, relay, "u2")
	if err := relay.Join(ctx, c2, "r1"); err != nil {
		t.Fatalf("Second join failed: %v", err)
	}
	roster = lastRoster(t, drainFrames(t, c2))
	sort.Strings(roster.Users)
	if len(roster.Users) != 2 || roster.Users[0] != "u1" || roster.Users[1] != "u2" {
		t.Errorf("Expected roster [u1 u2], got %v", roster.Users)
	}
}

func TestLeavePublishesEmptyRoster(t *testing.T) {
	ctx := context.Background()
	relay := newTestRelay(presence.NewMemoryStore(), bus.NewBroker().Bus())
	c := connect(t, relay, "u1")
	relay.Join(ctx, c, "r1")
	drainFrames(t, c)

	if err := relay.Leave(ctx, c, "r1"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	// The roster still goes out even though nobody local is left to read it;
	// a peer process would render the empty room.
	members, err := relay.store.Members(ctx, "r1")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("Expected empty membership after leave, got %v", members)
	}
}

func TestSendRequiresJoin(t *testing.T) {
	ctx := context.Background()
	relay := newTestRelay(presence.NewMemoryStore(), bus.NewBroker().Bus())
	c := connect(t, relay, "u1")

	err := relay.Send(ctx, c, "r1", "hello")
	if !errors.Is(err, ErrNotJoined) {
		t.Errorf("Expected ErrNotJoined, got %v", err)
	}
}

func TestBadRoomRejected(t *testing.T) {
	ctx := context.Background()
	relay := newTestRelay(presence.NewMemoryStore(), bus.NewBroker().Bus())
	c := connect(t, relay, "u1")

	for _, room := range []string{"", "a.b", "a b", "room>"} {
		if err := relay.Join(ctx, c, room); !errors.Is(err, ErrBadRoom) {
			t.Errorf("Join(%q): expected ErrBadRoom, got %v", room, err)
		}
	}
}

func TestMessageFanOutAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	store := presence.NewMemoryStore()
	broker := bus.NewBroker()
	relayA := newTestRelay(store, broker.Bus())
	relayB := newTestRelay(store, broker.Bus())

	c1 := connect(t, relayA, "u1")
	c2 := connect(t, relayB, "u2")
	relayA.Join(ctx, c1, "r1")
	relayB.Join(ctx, c2, "r1")
	drainFrames(t, c1)
	drainFrames(t, c2)

	if err := relayA.Send(ctx, c1, "r1", "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for name, c := range map[string]*Client{"sender": c1, "peer": c2} {
		frames := drainFrames(t, c)
		if len(frames) != 1 || frames[0].Event != EventChatMessage {
			t.Fatalf("Expected %s to receive one chat_message, got %+v", name, frames)
		}
		var msg ChatOutbound
		json.Unmarshal(frames[0].Data, &msg)
		if msg.RoomID != "r1" || msg.UserID != "u1" || msg.Text != "hello" {
			t.Errorf("Unexpected message for %s: %+v", name, msg)
		}
	}
}

func TestMessageTruncatedToLimit(t *testing.T) {
	ctx := context.Background()
	relay := newTestRelay(presence.NewMemoryStore(), bus.NewBroker().Bus())
	c := connect(t, relay, "u1")
	relay.Join(ctx, c, "r1")
	drainFrames(t, c)

	long := strings.Repeat("é", MaxMessageRunes+50)
	if err := relay.Send(ctx, c, "r1", long); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	frames := drainFrames(t, c)
	var msg ChatOutbound
	json.Unmarshal(frames[0].Data, &msg)
	if got := len([]rune(msg.Text)); got != MaxMessageRunes {
		t.Errorf("Expected %d code points, got %d", MaxMessageRunes, got)
	}
	if !strings.HasPrefix(long, msg.Text) {
		t.Error("Expected truncated text to be a prefix of the original")
	}
}

func TestRoomScopedDelivery(t *testing.T) {
	ctx := context.Background()
	store := presence.NewMemoryStore()
	broker := bus.NewBroker()
	relay := newTestRelay(store, broker.Bus())

	c1 := connect(t, relay, "u1")
	c2 := connect(t, relay, "u2")
	relay.Join(ctx, c1, "r1")
	relay.Join(ctx, c2, "r2")
	drainFrames(t, c1)
	drainFrames(t, c2)

	relay.Send(ctx, c1, "r1", "only r1")
	if frames := drainFrames(t, c2); len(frames) != 0 {
		t.Errorf("Expected no delivery outside the room, got %+v", frames)
	}
}

func TestDisconnectCascade(t *testing.T) {
	ctx := context.Background()
	store := presence.NewMemoryStore()
	broker := bus.NewBroker()
	relay := newTestRelay(store, broker.Bus())

	c1 := connect(t, relay, "u1")
	c2 := connect(t, relay, "u2")
	relay.Join(ctx, c1, "r1")
	relay.Join(ctx, c2, "r1")
	drainFrames(t, c1)
	drainFrames(t, c2)

	relay.Disconnect(ctx, c1)

	roster := lastRoster(t, drainFrames(t, c2))
	if len(roster.Users) != 1 || roster.Users[0] != "u2" {
		t.Errorf("Expected roster [u2] after disconnect, got %v", roster.Users)
	}

	members, _ := store.Members(ctx, "r1")
	if len(members) != 1 || members[0] != "u2" {
		t.Errorf("Expected shared membership [u2], got %v", members)
	}
}

func TestHeartbeatMarksOnline(t *testing.T) {
	ctx := context.Background()
	store := presence.NewMemoryStore()
	relay := newTestRelay(store, bus.NewBroker().Bus())
	c := newClient(nil, "u1")
	relay.reg.Register(c, "u1")

	relay.Heartbeat(ctx, c)
	online, err := store.Online(ctx, "u1")
	if err != nil || !online {
		t.Errorf("Expected u1 online after heartbeat, got online=%v err=%v", online, err)
	}
}

// failingStore refuses every operation, simulating an unreachable shared
// store.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) MarkOnline(context.Context, string) error           { return errStoreDown }
func (failingStore) Online(context.Context, string) (bool, error)       { return false, errStoreDown }
func (failingStore) AddMember(context.Context, string, string) error    { return errStoreDown }
func (failingStore) RemoveMember(context.Context, string, string) error { return errStoreDown }
func (failingStore) Members(context.Context, string) ([]string, error)  { return nil, errStoreDown }

func TestStoreOutageDegradesToLocalRoster(t *testing.T) {
	ctx := context.Background()
	broker := bus.NewBroker()
	relay := newTestRelay(failingStore{}, broker.Bus())

	c := connect(t, relay, "u1")
	if err := relay.Join(ctx, c, "r1"); err != nil {
		t.Fatalf("Expected join to succeed despite store outage, got %v", err)
	}

	roster := lastRoster(t, drainFrames(t, c))
	if len(roster.Users) != 1 || roster.Users[0] != "u1" {
		t.Errorf("Expected locally derived roster [u1], got %v", roster.Users)
	}

	if err := relay.Send(ctx, c, "r1", "still works"); err != nil {
		t.Errorf("Expected send to succeed despite store outage, got %v", err)
	}
}

func TestDeliverDuringDisconnectDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		relay := newTestRelay(presence.NewMemoryStore(), bus.NewBroker().Bus())
		c := connect(t, relay, "u1")
		relay.Join(ctx, c, "r1")

		evt := bus.Event{Room: "r1", Kind: bus.KindMessage, Payload: json.RawMessage(`{}`)}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				relay.deliver(evt)
			}
		}()
		go func() {
			defer wg.Done()
			relay.Disconnect(ctx, c)
			c.close()
		}()
		wg.Wait()
	}
}

// countingBus records subscription activity so tests can assert on the
// refcount decisions.
type countingBus struct {
	mu           sync.Mutex
	subscribes   int
	unsubscribes int
}

func (b *countingBus) Publish(context.Context, bus.Event) error { return nil }

func (b *countingBus) Subscribe(string, bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes++
	return nil
}

func (b *countingBus) Unsubscribe(string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribes++
	return nil
}

func (b *countingBus) Close() {}

func (b *countingBus) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes, b.unsubscribes
}

func TestConcurrentFirstJoinSubscribesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	cb := &countingBus{}
	relay := newTestRelay(presence.NewMemoryStore(), cb)

	const n = 8
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = connect(t, relay, "u"+string(rune('0'+i)))
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			relay.Join(ctx, c, "r1")
		}(c)
	}
	wg.Wait()

	if subs, _ := cb.counts(); subs != 1 {
		t.Errorf("Expected exactly one bus subscription for %d concurrent first joins, got %d", n, subs)
	}

	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			relay.Leave(ctx, c, "r1")
		}(c)
	}
	wg.Wait()

	if _, unsubs := cb.counts(); unsubs != 1 {
		t.Errorf("Expected exactly one bus unsubscription after all members left, got %d", unsubs)
	}
}

// failingBus refuses publishes but accepts subscriptions.
type failingBus struct{}

var errBusDown = errors.New("bus down")

func (failingBus) Publish(context.Context, bus.Event) error { return errBusDown }
func (failingBus) Subscribe(string, bus.Handler) error      { return nil }
func (failingBus) Unsubscribe(string) error                 { return nil }
func (failingBus) Close()                                   {}

func TestBusOutageDeliversLocally(t *testing.T) {
	ctx := context.Background()
	relay := newTestRelay(presence.NewMemoryStore(), failingBus{})

	c1 := connect(t, relay, "u1")
	c2 := connect(t, relay, "u2")
	relay.Join(ctx, c1, "r1")
	relay.Join(ctx, c2, "r1")
	drainFrames(t, c1)
	drainFrames(t, c2)

	if err := relay.Send(ctx, c1, "r1", "local only"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	frames := drainFrames(t, c2)
	if len(frames) != 1 || frames[0].Event != EventChatMessage {
		t.Errorf("Expected local fallback delivery, got %+v", frames)
	}
}
