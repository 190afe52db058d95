package social

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"sync"
	"time"
)

// DefaultStateTTL bounds how long a login attempt may take at the provider.
const DefaultStateTTL = 10 * time.Minute

const nonceBytes = 32

// OAuthState binds one login attempt to its callback.
type OAuthState struct {
	Nonce          string    `json:"n"`
	Provider       string    `json:"p"`
	RedirectTarget string    `json:"r,omitempty"`
	CreatedAt      time.Time `json:"iat"`
}

// Matches compares the returned state with the stored nonce in constant time.
func (s *OAuthState) Matches(returned string) bool {
	if s == nil || s.Nonce == "" || returned == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.Nonce), []byte(returned)) == 1
}

// StateStore persists nonces keyed by login attempt. Consume must remove the
// entry and return it as one atomic step so a state is accepted at most once.
type StateStore interface {
	Save(ctx context.Context, attemptID string, state *OAuthState, ttl time.Duration) error
	Consume(ctx context.Context, attemptID string) (*OAuthState, error)
}

// GenerateNonce returns a random URL safe nonce.
func GenerateNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type memoryEntry struct {
	state     OAuthState
	expiresAt time.Time
}

// MemoryStateStore keeps nonces in process memory. Expired entries are
// dropped lazily on Save.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStateStore returns an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the store clock (useful for tests).
func (s *MemoryStateStore) WithClock(clock func() time.Time) *MemoryStateStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *MemoryStateStore) Save(_ context.Context, attemptID string, state *OAuthState, ttl time.Duration) error {
	if attemptID == "" || state == nil {
		return errStateNotFound
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}

	s.entries[attemptID] = memoryEntry{state: *state, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, attemptID string) (*OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[attemptID]
	if !ok {
		return nil, errStateNotFound
	}
	delete(s.entries, attemptID)

	if !s.now().Before(e.expiresAt) {
		return nil, errStateNotFound
	}

	state := e.state
	return &state, nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
