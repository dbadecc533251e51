package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	livenessBucket = "PRESENCE"
	roomsBucket    = "ROOMS"
)

type livenessRecord struct {
	LastSeen int64 `json:"lastSeen"`
}

// KVStore implements Store on two JetStream KV buckets: PRESENCE holds
// liveness markers and expires them via the bucket TTL, ROOMS holds one
// "{room}.{identity}" key per membership entry so that adds and removes are
// single atomic KV operations.
type KVStore struct {
	liveness nats.KeyValue
	rooms    nats.KeyValue
}

// NewKVStore creates (or binds to) the presence buckets. Liveness lives in
// memory storage — it is rebuilt by client heartbeats after a broker
// restart — while room membership is file-backed.
func NewKVStore(js nats.JetStreamContext) (*KVStore, error) {
	liveness, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  livenessBucket,
		History: 1,
		TTL:     LivenessTTL,
		Storage: nats.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s bucket: %w", livenessBucket, err)
	}
	rooms, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  roomsBucket,
		History: 1,
		Storage: nats.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s bucket: %w", roomsBucket, err)
	}
	return &KVStore{liveness: liveness, rooms: rooms}, nil
}

func (s *KVStore) MarkOnline(_ context.Context, identity string) error {
	if !ValidKey(identity) {
		return ErrBadKey
	}
	data, err := json.Marshal(livenessRecord{LastSeen: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	if _, err := s.liveness.Put(identity, data); err != nil {
		return fmt.Errorf("kv put %s: %w", identity, err)
	}
	return nil
}

func (s *KVStore) Online(_ context.Context, identity string) (bool, error) {
	if !ValidKey(identity) {
		return false, ErrBadKey
	}
	_, err := s.liveness.Get(identity)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("kv get %s: %w", identity, err)
	}
	return true, nil
}

func (s *KVStore) AddMember(_ context.Context, room, identity string) error {
	if !ValidKey(room) || !ValidKey(identity) {
		return ErrBadKey
	}
	key := room + "." + identity
	_, err := s.rooms.Create(key, []byte("{}"))
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return nil
		}
		return fmt.Errorf("kv create %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) RemoveMember(_ context.Context, room, identity string) error {
	if !ValidKey(room) || !ValidKey(identity) {
		return ErrBadKey
	}
	key := room + "." + identity
	if err := s.rooms.Delete(key); err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Members(_ context.Context, room string) ([]string, error) {
	if !ValidKey(room) {
		return nil, ErrBadKey
	}
	keys, err := s.rooms.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	prefix := room + "."
	var members []string
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			members = append(members, key[len(prefix):])
		}
	}
	return members, nil
}
