package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStateKeyPrefix namespaces state keys in a shared Redis.
const DefaultStateKeyPrefix = "authgate:oauth:state:"

// RedisStateStore keeps nonces in Redis so any instance can finish a login
// started on another. Consume uses GETDEL, so concurrent callbacks for the
// same attempt see the entry at most once.
type RedisStateStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStateStore wraps client. An empty prefix uses DefaultStateKeyPrefix.
func NewRedisStateStore(client redis.UniversalClient, keyPrefix string) *RedisStateStore {
	if keyPrefix == "" {
		keyPrefix = DefaultStateKeyPrefix
	}
	return &RedisStateStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStateStore) key(attemptID string) string {
	return s.keyPrefix + attemptID
}

func (s *RedisStateStore) Save(ctx context.Context, attemptID string, state *OAuthState, ttl time.Duration) error {
	if attemptID == "" || state == nil {
		return errStateNotFound
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal oauth state: %w", err)
	}

	return s.client.Set(ctx, s.key(attemptID), data, ttl).Err()
}

func (s *RedisStateStore) Consume(ctx context.Context, attemptID string) (*OAuthState, error) {
	if attemptID == "" {
		return nil, errStateNotFound
	}

	data, err := s.client.GetDel(ctx, s.key(attemptID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errStateNotFound
		}
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	var state OAuthState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal oauth state: %w", err)
	}
	return &state, nil
}
