package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

const (
	// DefaultAPIKeyHeader carries the server to server shared secret
	DefaultAPIKeyHeader = "X-API-Key"
	// DefaultAuthHeader carries the bearer credential
	DefaultAuthHeader = "Authorization"
	// DefaultAuthScheme is the expected authorization scheme
	DefaultAuthScheme = "Bearer"
	// APIKeyPrincipalID identifies the synthetic administrator
	APIKeyPrincipalID = "system:api-key"
)

// GuardConfig configures credential extraction and the API key bypass.
type GuardConfig struct {
	// APIKey is the shared secret for trusted callers. Empty disables the
	// bypass and any request presenting the header fails closed.
	APIKey       string
	APIKeyHeader string
	AuthHeader   string
	AuthScheme   string
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = DefaultAPIKeyHeader
	}
	if c.AuthHeader == "" {
		c.AuthHeader = DefaultAuthHeader
	}
	if c.AuthScheme == "" {
		c.AuthScheme = DefaultAuthScheme
	}
	return c
}

// RouteRule is the requirement a route places on the caller. Empty Roles and
// Capability admit any approved identity.
type RouteRule struct {
	Tag        string
	Roles      []UserRole
	Capability string
}

// AccessRequest holds the request values the guard reads.
type AccessRequest struct {
	Rule          RouteRule
	Authorization string
	APIKey        string
}

// Principal is the resolved caller attached to the request context. It is
// built from the store record, never from the credential snapshot.
type Principal struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	DisplayName  string         `json:"display_name,omitempty"`
	Role         UserRole       `json:"role"`
	Approved     bool           `json:"approved"`
	Capabilities []string       `json:"capabilities,omitempty"`
	LandingRoute string         `json:"landing_route,omitempty"`
	Synthetic    bool           `json:"synthetic,omitempty"`
	User         *User          `json:"-"`
	Claims       *SessionClaims `json:"-"`
}

// Can reports whether the principal holds capability.
func (p *Principal) Can(capability string) bool {
	return p != nil && slices.Contains(p.Capabilities, capability)
}

// HasRole reports whether the principal has one of roles.
func (p *Principal) HasRole(roles ...UserRole) bool {
	return p != nil && slices.Contains(roles, p.Role)
}

// Guard authorizes requests to protected routes.
type Guard struct {
	cfg     GuardConfig
	tokens  *TokenService
	store   IdentityStore
	perms   *PermissionMap
	auditor *Auditor
	metrics *Metrics
	logger  Logger
}

// GuardOption customizes the guard
type GuardOption func(*Guard)

// WithGuardAuditor sets the auditor used for access records.
func WithGuardAuditor(a *Auditor) GuardOption {
	return func(g *Guard) {
		if a != nil {
			g.auditor = a
		}
	}
}

// WithGuardMetrics sets the decision counters.
func WithGuardMetrics(m *Metrics) GuardOption {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard builds a guard. A nil permission map uses DefaultPermissions.
func NewGuard(tokens *TokenService, store IdentityStore, perms *PermissionMap, cfg GuardConfig, opts ...GuardOption) (*Guard, error) {
	if tokens == nil || store == nil {
		return nil, fmt.Errorf("%w: guard requires a token service and an identity store", ErrConfiguration)
	}
	if perms == nil {
		var err error
		if perms, err = NewPermissionMap(DefaultPermissions()); err != nil {
			return nil, err
		}
	}

	g := &Guard{
		cfg:    cfg.withDefaults(),
		tokens: tokens,
		store:  store,
		perms:  perms,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.auditor == nil {
		g.auditor = NewAuditor(nil, g.logger)
	}
	return g, nil
}

// Config returns the effective configuration.
func (g *Guard) Config() GuardConfig {
	return g.cfg
}

// Permissions returns the permission map.
func (g *Guard) Permissions() *PermissionMap {
	return g.perms
}

// Authorize runs the full check for one request.
func (g *Guard) Authorize(ctx context.Context, req AccessRequest) (principal *Principal, err error) {
	defer func() {
		g.metrics.ObserveGuard(req.Rule.Tag, err)
	}()

	if req.APIKey != "" {
		return g.authorizeAPIKey(ctx, req)
	}

	token, ok := ExtractBearer(req.Authorization, g.cfg.AuthScheme)
	if !ok {
		return nil, ErrMissingCredential
	}

	claims, err := g.tokens.Verify(token)
	if err != nil {
		switch {
		case IsTokenExpiredError(err):
			g.logger.Debug("guard rejected expired credential", "route", req.Rule.Tag)
		case isErr(err, ErrSignatureInvalid):
			g.logger.Warn("guard rejected invalid credential",
				"route", req.Rule.Tag,
				"fingerprint", CredentialFingerprint(token),
			)
		}
		return nil, err
	}

	user, err := g.store.FindByID(ctx, claims.UserID())
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrSubjectNotFound
		}
		g.logger.Error("guard store lookup failed", "route", req.Rule.Tag, "error", err)
		return nil, err
	}

	if !user.Approved {
		return nil, ErrNotApproved
	}

	principal = g.principalFor(user, claims)
	if err := g.checkRule(principal, req.Rule); err != nil {
		return nil, err
	}

	g.auditor.Record(ctx, AuditRecord{
		Action:    AuditActionAccess,
		SubjectID: principal.ID,
		Role:      principal.Role,
		Route:     req.Rule.Tag,
	})

	return principal, nil
}

func (g *Guard) authorizeAPIKey(ctx context.Context, req AccessRequest) (*Principal, error) {
	if g.cfg.APIKey == "" {
		g.logger.Error("api key presented but no api key is configured", "route", req.Rule.Tag)
		return nil, fmt.Errorf("%w: api key is not configured", ErrConfiguration)
	}

	if !constantTimeEqual(req.APIKey, g.cfg.APIKey) {
		g.logger.Warn("guard rejected api key", "route", req.Rule.Tag, "fingerprint", CredentialFingerprint(req.APIKey))
		return nil, ErrAPIKeyInvalid
	}

	principal := g.syntheticAdmin()
	if err := g.checkRule(principal, req.Rule); err != nil {
		return nil, err
	}

	g.auditor.Record(ctx, AuditRecord{
		Action:    AuditActionAPIKeyAccess,
		SubjectID: principal.ID,
		Role:      principal.Role,
		Route:     req.Rule.Tag,
	})

	return principal, nil
}

func (g *Guard) principalFor(user *User, claims *SessionClaims) *Principal {
	entry, _ := g.perms.Lookup(user.Role)
	return &Principal{
		ID:           user.ID.String(),
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Role:         user.Role,
		Approved:     user.Approved,
		Capabilities: entry.Capabilities,
		LandingRoute: g.perms.LandingRoute(user.Role),
		User:         user,
		Claims:       claims,
	}
}

func (g *Guard) syntheticAdmin() *Principal {
	entry, _ := g.perms.Lookup(RoleAdmin)
	return &Principal{
		ID:           APIKeyPrincipalID,
		DisplayName:  "API key",
		Role:         RoleAdmin,
		Approved:     true,
		Capabilities: entry.Capabilities,
		LandingRoute: g.perms.LandingRoute(RoleAdmin),
		Synthetic:    true,
	}
}

func (g *Guard) checkRule(p *Principal, rule RouteRule) error {
	if len(rule.Roles) > 0 && !p.HasRole(rule.Roles...) {
		return fmt.Errorf("%w: role %q not allowed on %s", ErrForbidden, p.Role, rule.Tag)
	}
	if rule.Capability != "" && !g.perms.Can(p.Role, rule.Capability) {
		return fmt.Errorf("%w: missing capability %q on %s", ErrForbidden, rule.Capability, rule.Tag)
	}
	return nil
}

// ExtractBearer returns the credential from an authorization header value.
// The scheme match is case insensitive.
func ExtractBearer(header, scheme string) (string, bool) {
	if scheme == "" {
		scheme = DefaultAuthScheme
	}
	header = strings.TrimSpace(header)
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) || header[len(scheme)] != ' ' {
		return "", false
	}
	token := strings.TrimSpace(header[len(scheme):])
	return token, token != ""
}

// CredentialFingerprint is a short non reversible tag safe to log in place of a secret.
func CredentialFingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:12]
}

// constantTimeEqual hashes both sides so the comparison does not leak length.
func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
