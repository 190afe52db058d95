package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-gate"
)

func TestTokenService_IssueVerifyRoundTrip(t *testing.T) {
	clock := newTestClock()
	store := auth.NewMemoryIdentityStore()
	tokens := newTokens(store, clock)
	user := seedUser(t, store, "ada@campus.edu", auth.RoleFaculty, true)

	tests := []struct {
		name     string
		remember bool
		lifetime time.Duration
	}{
		{name: "standard", remember: false, lifetime: auth.DefaultTokenLifetime},
		{name: "remember me", remember: true, lifetime: auth.DefaultExtendedTokenLifetime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := issueFor(t, tokens, user, tt.remember)

			claims, err := tokens.Verify(token)
			require.NoError(t, err)
			assert.Equal(t, user.ID.String(), claims.UserID())
			assert.Equal(t, user.ID.String(), claims.Subject())
			assert.Equal(t, auth.RoleFaculty, claims.Role())
			assert.True(t, claims.Approved())
			assert.Equal(t, tt.remember, claims.Remember())
			assert.WithinDuration(t, epoch, claims.IssuedAt(), 0)
			assert.WithinDuration(t, epoch.Add(tt.lifetime), claims.Expires(), 0)
		})
	}
}

func TestTokenService_ExpiredRegardlessOfSignature(t *testing.T) {
	clock := newTestClock()
	store := auth.NewMemoryIdentityStore()
	tokens := newTokens(store, clock)
	user := seedUser(t, store, "ada@campus.edu", auth.RoleStudent, true)

	token := issueFor(t, tokens, user, false)
	tampered := tamperSignature(token)

	clock.Advance(auth.DefaultTokenLifetime)

	_, err := tokens.Verify(token)
	assert.True(t, errors.Is(err, auth.ErrTokenExpired), "at exp: %v", err)

	_, err = tokens.Verify(tampered)
	assert.True(t, errors.Is(err, auth.ErrTokenExpired), "tampered and expired: %v", err)

	foreign := auth.NewTokenService(auth.TokenConfig{
		SigningKey: []byte("another-key-another-key-another-k"),
		Issuer:     testIssuer,
	}, store, auth.WithTokenClock(func() time.Time { return epoch }))
	foreignToken := issueFor(t, foreign, user, false)

	_, err = tokens.Verify(foreignToken)
	assert.True(t, errors.Is(err, auth.ErrTokenExpired), "foreign and expired: %v", err)
	assert.True(t, auth.IsRetryable(err))
}

func TestTokenService_RejectsInvalidSignatures(t *testing.T) {
	clock := newTestClock()
	store := auth.NewMemoryIdentityStore()
	tokens := newTokens(store, clock)
	user := seedUser(t, store, "ada@campus.edu", auth.RoleStudent, true)
	token := issueFor(t, tokens, user, false)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": user.ID.String(),
		"iss": testIssuer,
		"iat": epoch.Unix(),
		"exp": epoch.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	wrongIssuer := signMap(t, jwt.MapClaims{
		"sub": user.ID.String(),
		"iss": "someone-else",
		"iat": epoch.Unix(),
		"exp": epoch.Add(time.Hour).Unix(),
	})

	noSubject := signMap(t, jwt.MapClaims{
		"iss": testIssuer,
		"iat": epoch.Unix(),
		"exp": epoch.Add(time.Hour).Unix(),
	})

	noExpiry := signMap(t, jwt.MapClaims{
		"sub": user.ID.String(),
		"iss": testIssuer,
		"iat": epoch.Unix(),
	})

	tests := map[string]string{
		"tampered signature": tamperSignature(token),
		"tampered payload":   tamperPayload(t, token),
		"malformed":          "not.a.jwt",
		"garbage":            "garbage",
		"alg none":           noneToken,
		"wrong issuer":       wrongIssuer,
		"no subject":         noSubject,
		"no expiry":          noExpiry,
	}

	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.Verify(tok)
			require.Error(t, err)
			assert.True(t, errors.Is(err, auth.ErrSignatureInvalid), "got %v", err)
			assert.False(t, auth.IsRetryable(err))
		})
	}
}

func TestTokenService_ToleratesIssuerClockSkew(t *testing.T) {
	tokens := newTokens(nil, newTestClock())

	claims := func(issuedAt time.Time) jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "user-1",
			"iss": testIssuer,
			"iat": issuedAt.Unix(),
			"exp": issuedAt.Add(time.Hour).Unix(),
		}
	}

	_, err := tokens.Verify(signMap(t, claims(epoch.Add(time.Second))))
	assert.NoError(t, err, "one second ahead")

	_, err = tokens.Verify(signMap(t, claims(epoch.Add(auth.DefaultClockSkew))))
	assert.NoError(t, err, "at the skew limit")

	_, err = tokens.Verify(signMap(t, claims(epoch.Add(2*auth.DefaultClockSkew))))
	assert.True(t, errors.Is(err, auth.ErrSignatureInvalid), "beyond the skew: %v", err)
}

func TestTokenService_SkewDoesNotExtendExpiry(t *testing.T) {
	clock := newTestClock()
	tokens := newTokens(nil, clock)

	token := signMap(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
		"iat": epoch.Unix(),
		"exp": epoch.Add(time.Minute).Unix(),
	})

	clock.Advance(time.Minute + time.Second)
	_, err := tokens.Verify(token)
	assert.True(t, errors.Is(err, auth.ErrTokenExpired), "got %v", err)
}

func TestTokenService_RequiresSigningKey(t *testing.T) {
	tokens := auth.NewTokenService(auth.TokenConfig{}, nil)
	assert.False(t, tokens.Configured())

	_, err := tokens.Issue(staticIdentity{id: "u-1", role: auth.RoleStudent}, false)
	assert.True(t, errors.Is(err, auth.ErrConfiguration))

	_, err = tokens.Verify("a.b.c")
	assert.True(t, errors.Is(err, auth.ErrConfiguration))
}

func TestTokenService_IssueRequiresIdentity(t *testing.T) {
	tokens := newTokens(nil, newTestClock())

	_, err := tokens.Issue(nil, false)
	assert.True(t, errors.Is(err, auth.ErrInvalidIdentity))

	_, err = tokens.Issue(staticIdentity{}, false)
	assert.True(t, errors.Is(err, auth.ErrInvalidIdentity))
}

func TestTokenService_AcceptsLegacySubjectShapes(t *testing.T) {
	tokens := newTokens(nil, newTestClock())

	base := func(extra jwt.MapClaims) jwt.MapClaims {
		claims := jwt.MapClaims{
			"iss": testIssuer,
			"iat": epoch.Unix(),
			"exp": epoch.Add(time.Hour).Unix(),
		}
		for k, v := range extra {
			claims[k] = v
		}
		return claims
	}

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{name: "id string", claims: base(jwt.MapClaims{"id": "u-legacy"}), want: "u-legacy"},
		{name: "id number", claims: base(jwt.MapClaims{"id": 42}), want: "42"},
		{name: "userId", claims: base(jwt.MapClaims{"userId": "u-camel"}), want: "u-camel"},
		{name: "nested user", claims: base(jwt.MapClaims{"user": map[string]any{"id": "u-nested"}}), want: "u-nested"},
		{name: "canonical wins", claims: base(jwt.MapClaims{"sub": "u-sub", "id": "u-legacy"}), want: "u-sub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := tokens.Verify(signMap(t, tt.claims))
			require.NoError(t, err)
			assert.Equal(t, tt.want, claims.UserID())
		})
	}
}

func TestTokenService_Refresh(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := auth.NewMemoryIdentityStore()
	tokens := newTokens(store, clock)
	user := seedUser(t, store, "ada@campus.edu", auth.RoleClub, true)

	t.Run("keeps remember me", func(t *testing.T) {
		token := issueFor(t, tokens, user, true)
		clock.Advance(time.Hour)

		refreshed, err := tokens.Refresh(ctx, token)
		require.NoError(t, err)

		claims, err := tokens.Verify(refreshed)
		require.NoError(t, err)
		assert.True(t, claims.Remember())
		assert.WithinDuration(t, clock.Now().Add(auth.DefaultExtendedTokenLifetime), claims.Expires(), 0)
	})

	t.Run("expired credential cannot refresh", func(t *testing.T) {
		token := issueFor(t, tokens, user, false)
		clock.Advance(auth.DefaultTokenLifetime + time.Second)

		_, err := tokens.Refresh(ctx, token)
		assert.True(t, errors.Is(err, auth.ErrTokenExpired))
	})

	t.Run("deleted subject", func(t *testing.T) {
		ghost, err := tokens.Issue(staticIdentity{id: "5f1d7c58-0000-4cb4-9a8f-1d6f3a2e9a10", role: auth.RoleStudent, approved: true}, false)
		require.NoError(t, err)

		_, err = tokens.Refresh(ctx, ghost)
		assert.True(t, errors.Is(err, auth.ErrSubjectNotFound))
	})

	t.Run("de-approved subject", func(t *testing.T) {
		token := issueFor(t, tokens, user, false)
		_, err := store.SetApproval(ctx, user.ID.String(), false, "admin-1")
		require.NoError(t, err)
		t.Cleanup(func() { _, _ = store.SetApproval(ctx, user.ID.String(), true, "admin-1") })

		_, err = tokens.Refresh(ctx, token)
		assert.True(t, errors.Is(err, auth.ErrNotApproved))
	})

	t.Run("no store", func(t *testing.T) {
		storeless := newTokens(nil, clock)
		_, err := storeless.Refresh(ctx, issueFor(t, storeless, user, false))
		assert.True(t, errors.Is(err, auth.ErrConfiguration))
	})
}

func signMap(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return token
}

func tamperSignature(token string) string {
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)
	return strings.Join(parts, ".")
}

func tamperPayload(t *testing.T, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	forged := signMap(t, jwt.MapClaims{
		"sub":  "someone-else",
		"role": auth.RoleAdmin,
		"iss":  testIssuer,
		"iat":  epoch.Unix(),
		"exp":  epoch.Add(time.Hour).Unix(),
	})
	parts[1] = strings.Split(forged, ".")[1]
	return strings.Join(parts, ".")
}
