package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"quiz-battle-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore persists room snapshots in Redis so rooms survive process
// restarts. One JSON value per room under battle:room:{roomID}, expiring
// after ttl so abandoned rooms clean themselves up.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

func (s *SnapshotStore) Save(ctx context.Context, snap domain.RoomSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(snap.RoomID), raw, s.ttl).Err()
}

func (s *SnapshotStore) Load(ctx context.Context, roomID string) (domain.RoomSnapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RoomSnapshot{}, false, nil
	}
	if err != nil {
		return domain.RoomSnapshot{}, false, err
	}
	var snap domain.RoomSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.RoomSnapshot{}, false, err
	}
	return snap, true, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, s.key(roomID)).Err()
}

func (s *SnapshotStore) key(roomID string) string {
	return "battle:room:" + roomID
}
