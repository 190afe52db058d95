package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-gate"
)

const (
	testSigningKey = "0123456789abcdef0123456789abcdef"
	testIssuer     = "authgate-test"
)

var epoch = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: epoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTokens(store auth.IdentityStore, clock *testClock) *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{
		SigningKey: []byte(testSigningKey),
		Issuer:     testIssuer,
	}, store, auth.WithTokenClock(clock.Now))
}

func seedUser(t *testing.T, store auth.IdentityStore, email string, role auth.UserRole, approved bool) *auth.User {
	t.Helper()
	user, err := store.Create(context.Background(), &auth.User{
		Email:        email,
		PasswordHash: "$2a$04$placeholder",
		Role:         role,
		DisplayName:  email,
		Approved:     approved,
	})
	require.NoError(t, err)
	return user
}

func issueFor(t *testing.T, tokens *auth.TokenService, user *auth.User, remember bool) string {
	t.Helper()
	token, err := tokens.Issue(auth.NewIdentityFromUser(user), remember)
	require.NoError(t, err)
	return token
}

// countingStore counts record reads.
type countingStore struct {
	*auth.MemoryIdentityStore
	reads atomic.Int32
}

func (s *countingStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	s.reads.Add(1)
	return s.MemoryIdentityStore.FindByID(ctx, id)
}

// auditCollector is an audit sink that keeps every record.
type auditCollector struct {
	mu      sync.Mutex
	records []auth.AuditRecord
}

func (c *auditCollector) Append(_ context.Context, record auth.AuditRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func (c *auditCollector) Records() []auth.AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]auth.AuditRecord(nil), c.records...)
}

// staticIdentity lets tests issue credentials carrying arbitrary snapshots.
type staticIdentity struct {
	id, email, role string
	approved        bool
}

func (s staticIdentity) ID() string     { return s.id }
func (s staticIdentity) Email() string  { return s.email }
func (s staticIdentity) Role() string   { return s.role }
func (s staticIdentity) Approved() bool { return s.approved }
