package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-gate"
)

func TestCreateAccountHandler_SeedsAdministrator(t *testing.T) {
	f := newAccountsFixture(t)
	handler := auth.NewCreateAccountHandler(f.accounts)
	ctx := context.Background()

	msg := auth.CreateAccountMessage{
		Email:          "root@campus.edu",
		Password:       "bootstrap-secret",
		DisplayName:    "Administrator",
		Role:           auth.RoleAdmin,
		ActorID:        "bootstrap",
		IgnoreExisting: true,
	}
	assert.Equal(t, "user.create", msg.Type())

	require.NoError(t, handler.Execute(ctx, msg))
	require.NoError(t, handler.Execute(ctx, msg), "seeding twice is a no-op")
	assert.Equal(t, 1, f.store.Len())

	admin, err := f.store.FindByEmail(ctx, "root@campus.edu")
	require.NoError(t, err)
	assert.True(t, admin.Approved)
	assert.Equal(t, "bootstrap", admin.ApprovedBy)

	_, err = f.accounts.Login(ctx, "root@campus.edu", "bootstrap-secret", false)
	assert.NoError(t, err)
}

func TestCreateAccountHandler_Errors(t *testing.T) {
	f := newAccountsFixture(t)
	handler := auth.NewCreateAccountHandler(f.accounts)

	msg := auth.CreateAccountMessage{Email: "grace@campus.edu", Password: "hopper-1906", Role: auth.RoleFaculty}
	require.NoError(t, handler.Execute(context.Background(), msg))

	err := handler.Execute(context.Background(), msg)
	assert.True(t, errors.Is(err, auth.ErrEmailTaken))

	err = handler.Execute(context.Background(), auth.CreateAccountMessage{Email: "bad", Password: "x", Role: auth.RoleStudent})
	assert.True(t, errors.Is(err, auth.ErrInvalidIdentity))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = handler.Execute(ctx, auth.CreateAccountMessage{Email: "late@campus.edu", Password: "late-pass", Role: auth.RoleStudent})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
