package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
)

// StateStore is the shared key/value store backing idempotency records,
// alert cooldowns and distributed leases. Values are JSON documents with a
// TTL; writes supporting coordination use SetNX semantics.
type StateStore struct {
	rdb *redis.Client
}

// NewStateStore creates a state store over an existing Redis client.
func NewStateStore(rdb *redis.Client) *StateStore {
	return &StateStore{rdb: rdb}
}

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = apperr.NotFound(apperr.CodeNotFound, "state key not found")

// GetJSON loads a key into dst. Returns ErrNotFound when absent.
func (s *StateStore) GetJSON(ctx context.Context, key string, dst interface{}) error {
	raw, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return apperr.Dependency(apperr.CodeDependency, "state get", err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return apperr.Internal(apperr.CodeInternal, "decode state value", err)
	}
	return nil
}

// SetJSON stores value under key with a TTL (0 means no expiry).
func (s *StateStore) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return apperr.Internal(apperr.CodeInternal, "encode state value", err)
	}
	if err := s.rdb.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return apperr.Dependency(apperr.CodeDependency, "state set", err)
	}
	return nil
}

// SetJSONNX stores value only if the key does not exist. Returns true when
// the write won.
func (s *StateStore) SetJSONNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return false, apperr.Internal(apperr.CodeInternal, "encode state value", err)
	}
	ok, err := s.rdb.SetNX(ctx, key, encoded, ttl).Result()
	if err != nil {
		return false, apperr.Dependency(apperr.CodeDependency, "state setnx", err)
	}
	return ok, nil
}

// Delete removes a key.
func (s *StateStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return apperr.Dependency(apperr.CodeDependency, "state delete", err)
	}
	return nil
}

// Exists reports whether a key is present and unexpired.
func (s *StateStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, apperr.Dependency(apperr.CodeDependency, "state exists", err)
	}
	return n > 0, nil
}

// Lease is a distributed lock held for a bounded duration.
type Lease struct {
	store *StateStore
	key   string
	token string
}

// releaseScript deletes the lease only if still held by this token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireLease tries to take the lease named key for ttl. Returns nil when
// another holder owns it.
func (s *StateStore) AcquireLease(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, apperr.Dependency(apperr.CodeDependency, "acquire lease", err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{store: s, key: key, token: token}, nil
}

// Release frees the lease if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.store.rdb, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return apperr.Dependency(apperr.CodeDependency, "release lease", err)
	}
	return nil
}
