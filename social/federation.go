package social

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-auth-gate"
)

// DefaultProviderTimeout bounds the code exchange and profile fetch.
const DefaultProviderTimeout = 10 * time.Second

// OutcomeStatus is the terminal result of a federated login.
type OutcomeStatus string

const (
	OutcomeAuthenticated   OutcomeStatus = "authenticated"
	OutcomePendingApproval OutcomeStatus = "pending_approval"
)

// Config configures the federator.
type Config struct {
	Policy               ProvisioningPolicy
	DefaultRole          auth.UserRole
	RequireEmailVerified bool
	StateTTL             time.Duration
	ProviderTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Policy == "" {
		c.Policy = ProvisionReject
	}
	if c.DefaultRole == "" {
		c.DefaultRole = auth.RoleStudent
	}
	if c.StateTTL <= 0 {
		c.StateTTL = DefaultStateTTL
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	return c
}

// AuthRedirect is where to send the user agent to start a login.
type AuthRedirect struct {
	URL       string
	AttemptID string
	Provider  string
}

// PendingProfile is the minimal data shown to a user awaiting approval.
type PendingProfile struct {
	Email       string        `json:"email"`
	DisplayName string        `json:"display_name,omitempty"`
	Role        auth.UserRole `json:"role"`
}

// Outcome is the result of a completed handshake. Token is set only for
// OutcomeAuthenticated.
type Outcome struct {
	Status         OutcomeStatus   `json:"status"`
	Token          string          `json:"token,omitempty"`
	User           *auth.User      `json:"-"`
	Pending        *PendingProfile `json:"pending,omitempty"`
	RedirectTarget string          `json:"redirect_target,omitempty"`
	Created        bool            `json:"created,omitempty"`
	Linked         bool            `json:"linked,omitempty"`
}

// Federator runs the state handshake and account resolution for external
// provider logins.
type Federator struct {
	cfg       Config
	providers map[string]Provider
	states    StateStore
	tokens    *auth.TokenService
	perms     *auth.PermissionMap
	resolver  *Resolver
	auditor   *auth.Auditor
	metrics   *auth.Metrics
	logger    auth.Logger
}

// FederatorOption configures the federator.
type FederatorOption func(*Federator)

// WithProvider registers a provider.
func WithProvider(provider Provider) FederatorOption {
	return func(f *Federator) {
		if provider == nil {
			return
		}
		f.providers[provider.Name()] = provider
	}
}

// WithStateStore sets the nonce store.
func WithStateStore(store StateStore) FederatorOption {
	return func(f *Federator) {
		if store != nil {
			f.states = store
		}
	}
}

// WithPermissions sets the permission map used for landing routes.
func WithPermissions(perms *auth.PermissionMap) FederatorOption {
	return func(f *Federator) {
		if perms != nil {
			f.perms = perms
		}
	}
}

// WithAuditor sets the auditor.
func WithAuditor(a *auth.Auditor) FederatorOption {
	return func(f *Federator) {
		if a != nil {
			f.auditor = a
		}
	}
}

// WithMetrics sets the outcome counters.
func WithMetrics(m *auth.Metrics) FederatorOption {
	return func(f *Federator) {
		f.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger auth.Logger) FederatorOption {
	return func(f *Federator) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFederator creates a federator. Without WithStateStore nonces are kept
// in memory, which only works for a single instance.
func NewFederator(store auth.IdentityStore, tokens *auth.TokenService, cfg Config, opts ...FederatorOption) (*Federator, error) {
	if store == nil || tokens == nil {
		return nil, fmt.Errorf("%w: federation requires an identity store and a token service", auth.ErrConfiguration)
	}

	cfg = cfg.withDefaults()
	if _, err := ParseProvisioningPolicy(string(cfg.Policy)); err != nil {
		return nil, err
	}

	f := &Federator{
		cfg:       cfg,
		providers: make(map[string]Provider),
		tokens:    tokens,
		logger:    auth.NewLogrusLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	if f.states == nil {
		f.states = NewMemoryStateStore()
	}
	if f.perms == nil {
		f.perms = auth.MustPermissionMap(auth.DefaultPermissions())
	}
	if f.auditor == nil {
		f.auditor = auth.NewAuditor(nil, f.logger)
	}
	f.resolver = &Resolver{
		Store:                store,
		Policy:               cfg.Policy,
		DefaultRole:          cfg.DefaultRole,
		RequireEmailVerified: cfg.RequireEmailVerified,
		Logger:               f.logger,
	}
	return f, nil
}

// Providers lists the registered provider names.
func (f *Federator) Providers() []string {
	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	return names
}

func (f *Federator) provider(name string) (Provider, error) {
	p, ok := f.providers[name]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %q", auth.ErrProviderNotConfigured, name)
	}
	return p, nil
}

// Initiate stores a fresh nonce for the login attempt and returns the
// provider URL carrying it. An empty attemptID gets a generated one.
func (f *Federator) Initiate(ctx context.Context, providerName, attemptID, redirectTarget string) (*AuthRedirect, error) {
	provider, err := f.provider(providerName)
	if err != nil {
		return nil, err
	}

	if attemptID == "" {
		attemptID = uuid.NewString()
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate oauth state: %w", err)
	}

	state := &OAuthState{
		Nonce:          nonce,
		Provider:       providerName,
		RedirectTarget: SafeRedirectTarget(redirectTarget),
		CreatedAt:      time.Now().UTC(),
	}
	if err := f.states.Save(ctx, attemptID, state, f.cfg.StateTTL); err != nil {
		return nil, fmt.Errorf("failed to store oauth state: %w", err)
	}

	return &AuthRedirect{
		URL:       provider.AuthCodeURL(nonce),
		AttemptID: attemptID,
		Provider:  providerName,
	}, nil
}

// Complete consumes the stored nonce and, if it matches returnedState,
// resolves profile to a local account.
func (f *Federator) Complete(ctx context.Context, attemptID, returnedState string, profile *Profile) (*Outcome, error) {
	providerName := ""
	if profile != nil {
		providerName = profile.Provider
	}

	state, err := f.consumeState(ctx, attemptID, returnedState, providerName)
	if err != nil {
		return nil, err
	}

	if profile != nil && profile.Provider == "" {
		profile.Provider = state.Provider
	}
	return f.finish(ctx, state, profile)
}

// Callback finishes a login from the provider redirect. The state is
// consumed before the provider is contacted.
func (f *Federator) Callback(ctx context.Context, providerName, attemptID, returnedState, code string) (*Outcome, error) {
	provider, err := f.provider(providerName)
	if err != nil {
		return nil, err
	}

	state, err := f.consumeState(ctx, attemptID, returnedState, providerName)
	if err != nil {
		return nil, err
	}

	profile, err := f.identify(ctx, provider, code)
	if err != nil {
		f.metrics.ObserveFederation(providerName, "provider_failed")
		f.logger.Warn("provider identify failed", "provider", providerName, "error", err)
		return nil, err
	}
	if profile.Provider == "" {
		profile.Provider = providerName
	}

	return f.finish(ctx, state, profile)
}

// Abandon discards the pending state of attemptID without completing it.
// It is used when the provider redirects back with an error.
func (f *Federator) Abandon(ctx context.Context, providerName, attemptID, reason string) error {
	if attemptID == "" {
		return nil
	}
	if _, err := f.states.Consume(ctx, attemptID); err != nil && !errors.Is(err, errStateNotFound) {
		return err
	}
	f.logger.Info("oauth attempt abandoned",
		"provider", providerName,
		"reason", reason,
		"attempt", auth.CredentialFingerprint(attemptID),
	)
	return nil
}

func (f *Federator) identify(ctx context.Context, provider Provider, code string) (profile *Profile, err error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", auth.ErrProviderFailed)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.cfg.ProviderTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			profile = nil
			err = fmt.Errorf("%w: provider panicked: %v", auth.ErrProviderFailed, r)
		}
	}()

	profile, err = provider.Identify(callCtx, code)
	if err != nil {
		return nil, wrapProviderError(provider.Name(), err)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: provider returned no profile", auth.ErrProviderFailed)
	}
	return profile, nil
}

func (f *Federator) consumeState(ctx context.Context, attemptID, returnedState, providerName string) (*OAuthState, error) {
	state, err := f.states.Consume(ctx, attemptID)
	if err != nil && !errors.Is(err, errStateNotFound) {
		return nil, err
	}

	reason := ""
	switch {
	case err != nil:
		reason = "no pending state for attempt"
	case !state.Matches(returnedState):
		reason = "state value differs"
	case providerName != "" && state.Provider != providerName:
		reason = "provider differs"
	}

	if reason != "" {
		f.metrics.ObserveStateMismatch()
		f.logger.Warn("oauth state mismatch",
			"security_event", true,
			"reason", reason,
			"provider", providerName,
			"attempt", auth.CredentialFingerprint(attemptID),
		)
		return nil, auth.ErrStateMismatch
	}

	return state, nil
}

func (f *Federator) finish(ctx context.Context, state *OAuthState, profile *Profile) (*Outcome, error) {
	res, err := f.resolver.Resolve(ctx, profile)
	if err != nil {
		f.metrics.ObserveFederation(state.Provider, auth.OutcomeLabel(err))
		f.logger.Info("federated login rejected", "provider", state.Provider, "error", err)
		return nil, err
	}

	user := res.User
	outcome := &Outcome{
		User:           user,
		RedirectTarget: state.RedirectTarget,
		Created:        res.Created,
		Linked:         res.Linked,
	}

	if !user.Approved {
		outcome.Status = OutcomePendingApproval
		outcome.Pending = &PendingProfile{
			Email:       user.Email,
			DisplayName: user.DisplayName,
			Role:        user.Role,
		}
		f.metrics.ObserveFederation(state.Provider, string(OutcomePendingApproval))
		f.auditor.Record(ctx, auth.AuditRecord{
			Action:    auth.AuditActionSocialPending,
			SubjectID: user.ID.String(),
			Role:      user.Role,
			Metadata:  map[string]any{"provider": state.Provider, "created": res.Created},
		})
		return outcome, nil
	}

	token, err := f.tokens.Issue(auth.NewIdentityFromUser(user), false)
	if err != nil {
		return nil, err
	}

	outcome.Status = OutcomeAuthenticated
	outcome.Token = token
	if outcome.RedirectTarget == "" {
		outcome.RedirectTarget = f.perms.LandingRoute(user.Role)
	}

	f.metrics.ObserveFederation(state.Provider, string(OutcomeAuthenticated))
	f.auditor.Record(ctx, auth.AuditRecord{
		Action:    auth.AuditActionSocialLogin,
		SubjectID: user.ID.String(),
		Role:      user.Role,
		Metadata:  map[string]any{"provider": state.Provider, "linked": res.Linked},
	})

	return outcome, nil
}

// SafeRedirectTarget keeps only same-site relative paths.
func SafeRedirectTarget(target string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return target
}
