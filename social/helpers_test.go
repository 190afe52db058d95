package social

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-gate"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

type stubProvider struct {
	name     string
	authBase string

	mu        sync.Mutex
	profile   *Profile
	err       error
	panicWith any
	calls     int
	lastState string
}

func newStubProvider(name string, profile *Profile) *stubProvider {
	return &stubProvider{name: name, authBase: "https://idp.example/" + name + "/authorize", profile: profile}
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) AuthCodeURL(state string) string {
	p.mu.Lock()
	p.lastState = state
	p.mu.Unlock()
	return p.authBase + "?state=" + url.QueryEscape(state)
}

func (p *stubProvider) Identify(_ context.Context, code string) (*Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.panicWith != nil {
		panic(p.panicWith)
	}
	if p.err != nil {
		return nil, p.err
	}
	if code == "" {
		return nil, errors.New("no code")
	}
	if p.profile == nil {
		return nil, nil
	}
	out := *p.profile
	return &out, nil
}

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type federationFixture struct {
	store     *auth.MemoryIdentityStore
	tokens    *auth.TokenService
	states    *MemoryStateStore
	metrics   *auth.Metrics
	provider  *stubProvider
	federator *Federator
}

func newFederationFixture(t *testing.T, cfg Config, profile *Profile) *federationFixture {
	t.Helper()

	f := &federationFixture{
		store:    auth.NewMemoryIdentityStore(),
		states:   NewMemoryStateStore(),
		metrics:  auth.NewMetrics(prometheus.NewRegistry()),
		provider: newStubProvider("campus", profile),
	}
	f.tokens = auth.NewTokenService(auth.TokenConfig{SigningKey: []byte(testSigningKey)}, f.store)

	federator, err := NewFederator(f.store, f.tokens, cfg,
		WithProvider(f.provider),
		WithStateStore(f.states),
		WithMetrics(f.metrics),
	)
	require.NoError(t, err)
	f.federator = federator
	return f
}

// begin runs Initiate and returns the attempt id and the nonce handed to the provider.
func (f *federationFixture) begin(t *testing.T, redirect string) (string, string) {
	t.Helper()
	r, err := f.federator.Initiate(context.Background(), f.provider.name, "", redirect)
	require.NoError(t, err)
	u, err := url.Parse(r.URL)
	require.NoError(t, err)
	return r.AttemptID, u.Query().Get("state")
}

func (f *federationFixture) seed(t *testing.T, email string, role auth.UserRole, approved bool, providerID string) *auth.User {
	t.Helper()
	record := &auth.User{
		Email:        email,
		PasswordHash: "$2a$04$placeholder",
		Role:         role,
		Approved:     approved,
	}
	if providerID != "" {
		record.ProviderID = &providerID
	}
	user, err := f.store.Create(context.Background(), record)
	require.NoError(t, err)
	return user
}

func verifiedProfile(subject, email string) *Profile {
	return &Profile{
		Provider:       "campus",
		ProviderUserID: subject,
		Email:          email,
		EmailVerified:  true,
		Name:           "Ada Lovelace",
		AvatarURL:      "https://campus.edu/avatar/" + subject,
	}
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
