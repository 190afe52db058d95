package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTokenLifetime is the credential lifetime without remember me
	DefaultTokenLifetime = 24 * time.Hour
	// DefaultExtendedTokenLifetime is the credential lifetime with remember me
	DefaultExtendedTokenLifetime = 14 * 24 * time.Hour
	// DefaultClockSkew is the tolerated issuer clock drift for iat and nbf
	DefaultClockSkew = 30 * time.Second
)

// TokenConfig holds the signing secret and lifetimes. It is passed at
// construction so each service instance owns its own secret.
type TokenConfig struct {
	SigningKey       []byte
	Issuer           string
	Audience         []string
	Lifetime         time.Duration
	ExtendedLifetime time.Duration
	// ClockSkew tolerates peers whose clock runs ahead. Expiry is never
	// extended by it. Zero uses DefaultClockSkew.
	ClockSkew time.Duration
}

func (c TokenConfig) withDefaults() TokenConfig {
	if c.Lifetime <= 0 {
		c.Lifetime = DefaultTokenLifetime
	}
	if c.ExtendedLifetime <= 0 {
		c.ExtendedLifetime = DefaultExtendedTokenLifetime
	}
	if c.ClockSkew <= 0 {
		c.ClockSkew = DefaultClockSkew
	}
	if c.ExtendedLifetime < c.Lifetime {
		c.ExtendedLifetime = c.Lifetime
	}
	c.SigningKey = append([]byte(nil), c.SigningKey...)
	c.Audience = append([]string(nil), c.Audience...)
	return c
}

// TokenService issues, verifies and refreshes session credentials
type TokenService struct {
	cfg    TokenConfig
	store  IdentityStore
	logger Logger
	now    func() time.Time
}

// TokenOption customizes the token service
type TokenOption func(*TokenService)

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger Logger) TokenOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a token service. The store is only used by Refresh.
func NewTokenService(cfg TokenConfig, store IdentityStore, opts ...TokenOption) *TokenService {
	ts := &TokenService{
		cfg:    cfg.withDefaults(),
		store:  store,
		logger: defLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// Configured reports whether a signing secret is present.
func (ts *TokenService) Configured() bool {
	return len(ts.cfg.SigningKey) > 0
}

// Issue signs a new credential for identity.
func (ts *TokenService) Issue(identity Identity, rememberMe bool) (string, error) {
	if !ts.Configured() {
		return "", fmt.Errorf("%w: signing key is empty", ErrConfiguration)
	}
	if identity == nil || identity.ID() == "" {
		return "", fmt.Errorf("%w: identity is required", ErrInvalidIdentity)
	}

	now := ts.now().Truncate(time.Second)
	lifetime := ts.cfg.Lifetime
	if rememberMe {
		lifetime = ts.cfg.ExtendedLifetime
	}

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.cfg.Issuer,
			Subject:   identity.ID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
		UID:        identity.ID(),
		UserRole:   identity.Role(),
		IsApproved: identity.Approved(),
		RememberMe: rememberMe,
	}
	if len(ts.cfg.Audience) > 0 {
		claims.Audience = jwt.ClaimStrings(ts.cfg.Audience)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("%w: sign credential: %v", ErrConfiguration, err)
	}

	return signed, nil
}

// Verify decodes a credential. Expiry is checked before the signature so an
// expired credential reports ErrTokenExpired whatever its signature.
func (ts *TokenService) Verify(tokenString string) (*SessionClaims, error) {
	if !ts.Configured() {
		return nil, fmt.Errorf("%w: signing key is empty", ErrConfiguration)
	}

	now := ts.now()

	unverified := &SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, unverified); err != nil {
		return nil, fmt.Errorf("%w: malformed credential", ErrSignatureInvalid)
	}
	if exp := unverified.ExpiresAt; exp != nil && !now.Before(exp.Time) {
		return nil, ErrTokenExpired
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(ts.cfg.ClockSkew),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.cfg.Issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.cfg.Issuer))
	}
	for _, aud := range ts.cfg.Audience {
		parserOptions = append(parserOptions, jwt.WithAudience(aud))
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return ts.cfg.SigningKey, nil
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !token.Valid {
		return nil, ErrSignatureInvalid
	}

	if claims.UserID() == "" {
		return nil, fmt.Errorf("%w: credential has no subject", ErrSignatureInvalid)
	}
	if iat := claims.IssuedAt(); !iat.IsZero() && !claims.Expires().After(iat) {
		return nil, fmt.Errorf("%w: expiry is not after issued at", ErrSignatureInvalid)
	}

	return claims, nil
}

// Refresh verifies a credential, re-reads its subject and issues a new
// credential with the same remember setting.
func (ts *TokenService) Refresh(ctx context.Context, tokenString string) (string, error) {
	claims, err := ts.Verify(tokenString)
	if err != nil {
		return "", err
	}

	if ts.store == nil {
		return "", fmt.Errorf("%w: identity store is required for refresh", ErrConfiguration)
	}

	user, err := ts.store.FindByID(ctx, claims.UserID())
	if err != nil {
		if IsNotFound(err) {
			return "", ErrSubjectNotFound
		}
		ts.logger.Error("token refresh store lookup failed", "error", err)
		return "", err
	}

	if !user.Approved {
		return "", ErrNotApproved
	}

	return ts.Issue(NewIdentityFromUser(user), claims.Remember())
}
