package gateway

import (
	"errors"
	"sync"
)

// ErrAlreadyRegistered means Register was called twice for one connection —
// a programming error in the handshake path, not a user-facing condition.
var ErrAlreadyRegistered = errors.New("connection already registered")

// ErrNotRegistered means the connection never completed a handshake or has
// already been closed.
var ErrNotRegistered = errors.New("connection not registered")

// ErrConnClosed means the connection was unregistered; the handle is dead
// and cannot re-enter the registry.
var ErrConnClosed = errors.New("connection closed")

type connState struct {
	identity string
	rooms    map[string]struct{}
}

// Registry is the per-process map from live connections to their identity
// and locally joined rooms. It is owned by exactly one gateway process and
// mutated only on that process's event-handling paths; nothing in it is ever
// shared across processes. Each process holds exactly one instance for its
// lifetime.
type Registry struct {
	mu    sync.Mutex
	conns map[*Client]*connState
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Client]*connState)}
}

// Register binds a connection to its validated identity. Called once per
// successful handshake.
func (r *Registry) Register(c *Client, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.retired {
		return ErrConnClosed
	}
	if _, ok := r.conns[c]; ok {
		return ErrAlreadyRegistered
	}
	r.conns[c] = &connState{identity: identity, rooms: make(map[string]struct{})}
	return nil
}

// Identity returns the identity bound to the connection.
func (r *Registry) Identity(c *Client) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[c]
	if !ok {
		return "", false
	}
	return st.identity, true
}

// JoinRoom adds the room to the connection's local set. Returns whether the
// room was newly joined (joining twice is a no-op) and the number of local
// connections in the room after the change. The count is computed under the
// mutation's lock so callers can key the per-room bus subscription on it:
// exactly one concurrent first joiner ever observes 1.
func (r *Registry) JoinRoom(c *Client, room string) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[c]
	if !ok {
		return false, 0, ErrNotRegistered
	}
	if _, joined := st.rooms[room]; joined {
		return false, r.roomCountLocked(room), nil
	}
	st.rooms[room] = struct{}{}
	return true, r.roomCountLocked(room), nil
}

// LeaveRoom removes the room from the connection's local set. Returns
// whether the connection was actually a member (leaving a non-joined room
// is a no-op) and the local count after the change, computed under the same
// lock: exactly one concurrent last leaver ever observes 0.
func (r *Registry) LeaveRoom(c *Client, room string) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[c]
	if !ok {
		return false, 0, ErrNotRegistered
	}
	if _, joined := st.rooms[room]; !joined {
		return false, r.roomCountLocked(room), nil
	}
	delete(st.rooms, room)
	return true, r.roomCountLocked(room), nil
}

// Joined reports whether the connection has locally joined the room.
func (r *Registry) Joined(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[c]
	if !ok {
		return false
	}
	_, joined := st.rooms[room]
	return joined
}

// Unregister removes the connection and returns the rooms it had joined,
// each with the local count remaining after the removal, so the caller can
// run the leave cascade and drop bus subscriptions for rooms that reached
// zero. There is no transition back; a closed connection can never be
// re-registered under the same handle.
func (r *Registry) Unregister(c *Client) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[c]
	if !ok {
		return nil
	}
	delete(r.conns, c)
	c.retired = true
	rooms := make(map[string]int, len(st.rooms))
	for room := range st.rooms {
		rooms[room] = r.roomCountLocked(room)
	}
	return rooms
}

// LocalMembers returns the connections on this process that have joined the
// room.
func (r *Registry) LocalMembers(room string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	var members []*Client
	for c, st := range r.conns {
		if _, joined := st.rooms[room]; joined {
			members = append(members, c)
		}
	}
	return members
}

// LocalRoomCount returns how many local connections have joined the room.
func (r *Registry) LocalRoomCount(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomCountLocked(room)
}

func (r *Registry) roomCountLocked(room string) int {
	count := 0
	for _, st := range r.conns {
		if _, joined := st.rooms[room]; joined {
			count++
		}
	}
	return count
}

// LocalIdentities returns the identities of local members of the room,
// deduplicated. It is the fallback roster when the shared store is
// unreachable.
func (r *Registry) LocalIdentities(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	var identities []string
	for _, st := range r.conns {
		if _, joined := st.rooms[room]; !joined {
			continue
		}
		if _, dup := seen[st.identity]; dup {
			continue
		}
		seen[st.identity] = struct{}{}
		identities = append(identities, st.identity)
	}
	return identities
}
