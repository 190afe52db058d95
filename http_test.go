package auth_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-gate"
)

// protectMock serves cookies from a map and keeps the context handed to SetContext.
type protectMock struct {
	*router.MockContext
	cookies map[string]string
	reqCtx  context.Context
}

func (c *protectMock) Cookies(key string, defaultValue ...string) string {
	if v, ok := c.cookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *protectMock) SetContext(ctx context.Context) {
	c.reqCtx = ctx
}

func newProtectContext(authorization, apiKey string) *protectMock {
	ctx := router.NewMockContext()
	ctx.On("GetString", auth.DefaultAuthHeader, "").Return(authorization)
	ctx.On("GetString", auth.DefaultAPIKeyHeader, "").Return(apiKey)
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", auth.DefaultContextKey, mock.AnythingOfType("*auth.Principal")).Return(nil).Maybe()
	return &protectMock{MockContext: ctx, cookies: map[string]string{}}
}

type nextRecorder struct {
	called    bool
	principal *auth.Principal
}

func (n *nextRecorder) handler(ctx router.Context) error {
	n.called = true
	if p, ok := auth.GetRouterPrincipal(ctx, auth.DefaultContextKey); ok {
		n.principal = p
	}
	return nil
}

func TestProtect_AllowsAndStoresPrincipal(t *testing.T) {
	f := newGuardFixture(t, auth.GuardConfig{})
	user := seedUser(t, f.store.MemoryIdentityStore, "grace@campus.edu", auth.RoleFaculty, true)
	token := issueFor(t, f.tokens, user, false)

	ctx := newProtectContext(bearer(token), "")

	next := &nextRecorder{}
	mw := auth.Protect(f.guard, auth.RouteRule{Tag: "proposals.review", Capability: auth.CapProposalReview})
	require.NoError(t, mw(next.handler)(ctx))

	assert.True(t, next.called)
	require.NotNil(t, next.principal)
	assert.Equal(t, user.ID.String(), next.principal.ID)

	reqCtx := ctx.reqCtx
	require.NotNil(t, reqCtx)
	principal, ok := auth.PrincipalFromContext(reqCtx)
	require.True(t, ok)
	assert.Equal(t, auth.RoleFaculty, principal.Role)
	assert.True(t, auth.Can(reqCtx, auth.CapProposalDecide))

	claims, ok := auth.GetClaims(reqCtx)
	require.True(t, ok)
	assert.Equal(t, user.ID.String(), claims.UserID())
}

func TestProtect_RejectsWithJSONStatus(t *testing.T) {
	f := newGuardFixture(t, auth.GuardConfig{APIKey: testAPIKey})
	student := seedUser(t, f.store.MemoryIdentityStore, "ada@campus.edu", auth.RoleStudent, true)
	pending := seedUser(t, f.store.MemoryIdentityStore, "bob@campus.edu", auth.RoleStudent, false)

	tests := []struct {
		name          string
		authorization string
		apiKey        string
		rule          auth.RouteRule
		status        int
		code          string
	}{
		{name: "missing credential", rule: auth.RouteRule{Tag: "me"}, status: http.StatusUnauthorized, code: auth.TextCodeMissingCredential},
		{name: "bad signature", authorization: "Bearer x.y.z", rule: auth.RouteRule{Tag: "me"}, status: http.StatusUnauthorized, code: auth.TextCodeSignatureInvalid},
		{name: "not approved", authorization: bearer(issueFor(t, f.tokens, pending, false)), rule: auth.RouteRule{Tag: "me"}, status: http.StatusForbidden, code: auth.TextCodeNotApproved},
		{name: "forbidden", authorization: bearer(issueFor(t, f.tokens, student, false)), rule: auth.RouteRule{Tag: "users.approve", Capability: auth.CapUserApprove}, status: http.StatusForbidden, code: auth.TextCodeForbidden},
		{name: "wrong api key", apiKey: "nope", rule: auth.RouteRule{Tag: "me"}, status: http.StatusUnauthorized, code: auth.TextCodeAPIKeyInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newProtectContext(tt.authorization, tt.apiKey)

			var body auth.ErrorResponse
			ctx.On("JSON", tt.status, mock.Anything).Run(func(args mock.Arguments) {
				body = args.Get(1).(auth.ErrorResponse)
			}).Return(nil)

			next := &nextRecorder{}
			err := auth.Protect(f.guard, tt.rule)(next.handler)(ctx)
			require.NoError(t, err)

			assert.False(t, next.called)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
			ctx.AssertCalled(t, "JSON", tt.status, mock.Anything)
		})
	}
}

func TestProtect_ExpiredIsRetryable(t *testing.T) {
	f := newGuardFixture(t, auth.GuardConfig{})
	user := seedUser(t, f.store.MemoryIdentityStore, "ada@campus.edu", auth.RoleStudent, true)
	token := issueFor(t, f.tokens, user, false)
	f.clock.Advance(auth.DefaultTokenLifetime + 1)

	ctx := newProtectContext(bearer(token), "")
	var body auth.ErrorResponse
	ctx.On("JSON", http.StatusUnauthorized, mock.Anything).Run(func(args mock.Arguments) {
		body = args.Get(1).(auth.ErrorResponse)
	}).Return(nil)

	require.NoError(t, auth.Protect(f.guard, auth.RouteRule{Tag: "me"})((&nextRecorder{}).handler)(ctx))
	assert.Equal(t, auth.TextCodeTokenExpired, body.Code)
	assert.True(t, body.Retryable)
}

func TestProtect_ReadsCredentialCookie(t *testing.T) {
	f := newGuardFixture(t, auth.GuardConfig{})
	user := seedUser(t, f.store.MemoryIdentityStore, "ada@campus.edu", auth.RoleClub, true)
	token := issueFor(t, f.tokens, user, true)

	ctx := newProtectContext("", "")
	ctx.cookies["session"] = token

	next := &nextRecorder{}
	mw := auth.Protect(f.guard, auth.RouteRule{Tag: "clubs.manage", Capability: auth.CapClubManage},
		auth.WithProtectCookie("session"),
	)
	require.NoError(t, mw(next.handler)(ctx))

	assert.True(t, next.called)
	require.NotNil(t, next.principal)
	assert.Equal(t, auth.RoleClub, next.principal.Role)
}

func TestProtect_CustomErrorHandler(t *testing.T) {
	f := newGuardFixture(t, auth.GuardConfig{})
	ctx := newProtectContext("", "")

	var seen error
	mw := auth.Protect(f.guard, auth.RouteRule{Tag: "me"}, auth.WithProtectErrorHandler(func(_ router.Context, err error) error {
		seen = err
		return fmt.Errorf("rendered: %w", err)
	}))

	err := mw((&nextRecorder{}).handler)(ctx)
	assert.True(t, errors.Is(err, auth.ErrMissingCredential))
	assert.True(t, errors.Is(seen, auth.ErrMissingCredential))
}

func TestNewErrorResponse_HidesUnknownErrors(t *testing.T) {
	resp := auth.NewErrorResponse(errors.New("pq: connection refused to 10.0.0.5"))
	assert.Equal(t, "An unexpected server error occurred", resp.Error)
	assert.Empty(t, resp.Code)

	assert.Equal(t, http.StatusInternalServerError, auth.StatusForError(errors.New("boom")))
}
