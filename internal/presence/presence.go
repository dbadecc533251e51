// Package presence is the shared source of truth for "who is online" and
// "who is in room R". Liveness records age out on their own; membership
// entries are only removed by an explicit leave or disconnect cascade, so a
// roster may list identities whose liveness has already expired. That
// staleness is deliberate and matches the observed behavior of the system
// this gateway replaces.
package presence

import (
	"context"
	"errors"
	"strings"
	"time"
)

// LivenessTTL is how long an identity counts as online after its last
// activity. A silent client simply ages out instead of requiring an explicit
// disconnect notification, at the cost of up to this much stale "online"
// status.
const LivenessTTL = 60 * time.Second

// ErrBadKey is returned when a room id or identity contains characters that
// cannot be embedded in store keys or bus subjects.
var ErrBadKey = errors.New("room or identity contains reserved characters")

// Store is the process-external presence and membership store. All
// operations are atomic with respect to concurrent callers across processes;
// none perform a read-modify-write cycle.
type Store interface {
	// MarkOnline sets or refreshes the identity's liveness record.
	MarkOnline(ctx context.Context, identity string) error
	// Online reports whether the identity has an unexpired liveness record.
	Online(ctx context.Context, identity string) (bool, error)
	// AddMember adds the identity to the room's membership set. Adding an
	// existing member is a no-op.
	AddMember(ctx context.Context, room, identity string) error
	// RemoveMember removes the identity from the room's membership set.
	// Removing a non-member is a no-op.
	RemoveMember(ctx context.Context, room, identity string) error
	// Members returns a snapshot of the room's membership set. The snapshot
	// may include identities whose liveness has since expired.
	Members(ctx context.Context, room string) ([]string, error)
}

// ValidKey reports whether s is usable as a room id or identity. Both end up
// in composite KV keys and NATS subjects, where dots, wildcards, and
// whitespace have structural meaning.
func ValidKey(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, ".*> \t\r\n")
}
