package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veoanimator/server/internal/adapter/outbound/credential"
)

const (
	pendingKeyPrefix  = "cred:pending:"
	selectedKeyPrefix = "cred:selected:"
	defaultKeyTTL     = 12 * time.Hour
)

// KV is the subset of the Redis client used by CredentialStore.
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CredentialStore implements credential.KeyStore on Redis so keys survive
// restarts and are shared between replicas.
type CredentialStore struct {
	client KV
	ttl    time.Duration
}

// NewCredentialStore creates a Redis backed key store.
func NewCredentialStore(client KV, ttl time.Duration) *CredentialStore {
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	return &CredentialStore{client: client, ttl: ttl}
}

func (s *CredentialStore) Stage(ctx context.Context, sessionID, key string) error {
	if err := s.client.Set(ctx, pendingKeyPrefix+sessionID, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("stage key: %w", err)
	}
	return nil
}

func (s *CredentialStore) Promote(ctx context.Context, sessionID string) error {
	key, err := s.client.GetDel(ctx, pendingKeyPrefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return credential.ErrNoStagedKey
		}
		return fmt.Errorf("take staged key: %w", err)
	}
	if err := s.client.Set(ctx, selectedKeyPrefix+sessionID, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("select key: %w", err)
	}
	return nil
}

func (s *CredentialStore) Selected(ctx context.Context, sessionID string) (string, error) {
	key, err := s.client.Get(ctx, selectedKeyPrefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get selected key: %w", err)
	}
	return key, nil
}

func (s *CredentialStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, pendingKeyPrefix+sessionID, selectedKeyPrefix+sessionID).Err()
}

// Compile-time check
var _ credential.KeyStore = (*CredentialStore)(nil)
