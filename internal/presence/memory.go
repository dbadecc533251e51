package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same observable semantics as
// KVStore, including liveness expiry. It backs tests and single-process dev
// runs where no broker is available.
type MemoryStore struct {
	mu       sync.Mutex
	liveness map[string]time.Time // identity -> expiry deadline
	rooms    map[string]map[string]struct{}
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		liveness: make(map[string]time.Time),
		rooms:    make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

func (s *MemoryStore) MarkOnline(_ context.Context, identity string) error {
	if !ValidKey(identity) {
		return ErrBadKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveness[identity] = s.now().Add(LivenessTTL)
	return nil
}

func (s *MemoryStore) Online(_ context.Context, identity string) (bool, error) {
	if !ValidKey(identity) {
		return false, ErrBadKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.liveness[identity]
	if !ok {
		return false, nil
	}
	// A record refreshed at T stays online through T+TTL inclusive.
	return !s.now().After(deadline), nil
}

func (s *MemoryStore) AddMember(_ context.Context, room, identity string) error {
	if !ValidKey(room) || !ValidKey(identity) {
		return ErrBadKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[room] == nil {
		s.rooms[room] = make(map[string]struct{})
	}
	s.rooms[room][identity] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, room, identity string) error {
	if !ValidKey(room) || !ValidKey(identity) {
		return ErrBadKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if members, ok := s.rooms[room]; ok {
		delete(members, identity)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
	return nil
}

func (s *MemoryStore) Members(_ context.Context, room string) ([]string, error) {
	if !ValidKey(room) {
		return nil, ErrBadKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.rooms[room]
	if len(members) == 0 {
		return nil, nil
	}
	result := make([]string, 0, len(members))
	for identity := range members {
		result = append(result, identity)
	}
	return result, nil
}
