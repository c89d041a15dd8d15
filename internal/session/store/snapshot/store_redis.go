package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"guestgate/internal/session/models"
	id "guestgate/pkg/domain"
	"guestgate/pkg/platform/sentinel"
)

const (
	snapshotKeyPrefix = "guestgate:snapshot:"
	previewKeyPrefix  = "guestgate:preview:"
)

// RedisStore persists snapshots in Redis. Keys carry the ttl natively so
// Redis reaps abandoned sessions; Load still checks SavedAt against the
// caller's now so the lazy-purge contract holds under a test clock.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed snapshot store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func snapshotKey(sessionID id.SessionID) string {
	return snapshotKeyPrefix + sessionID.String()
}

func previewKey(sessionID id.SessionID) string {
	return previewKeyPrefix + sessionID.String()
}

func (s *RedisStore) Save(ctx context.Context, snap models.Snapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey(snap.SessionID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w: %w", err, sentinel.ErrUnavailable)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID id.SessionID, ttl time.Duration, now time.Time) (*models.Snapshot, error) {
	payload, err := s.client.Get(ctx, snapshotKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("snapshot not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w: %w", err, sentinel.ErrUnavailable)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Stale(ttl, now) {
		if err := s.Purge(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("snapshot outlived its ttl: %w", sentinel.ErrExpired)
	}
	return &snap, nil
}

func (s *RedisStore) SavePreview(ctx context.Context, preview models.Preview, ttl time.Duration) error {
	payload, err := json.Marshal(preview)
	if err != nil {
		return fmt.Errorf("marshal preview: %w", err)
	}
	if err := s.client.Set(ctx, previewKey(preview.SessionID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save preview: %w: %w", err, sentinel.ErrUnavailable)
	}
	return nil
}

func (s *RedisStore) LoadPreview(ctx context.Context, sessionID id.SessionID) (*models.Preview, error) {
	payload, err := s.client.Get(ctx, previewKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("preview not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load preview: %w: %w", err, sentinel.ErrUnavailable)
	}

	var preview models.Preview
	if err := json.Unmarshal(payload, &preview); err != nil {
		return nil, fmt.Errorf("unmarshal preview: %w", err)
	}
	return &preview, nil
}

func (s *RedisStore) Purge(ctx context.Context, sessionID id.SessionID) error {
	if err := s.client.Del(ctx, snapshotKey(sessionID), previewKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("purge snapshot: %w: %w", err, sentinel.ErrUnavailable)
	}
	return nil
}
