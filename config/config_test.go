package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/social"
)

const testKey = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
token:
  signing_key: "`+testKey+`"
  issuer: campus-portal
  lifetime: 2h
federation:
  policy: auto-provision-pending
  default_role: club
  providers:
    - name: campus
      issuer: https://idp.campus.edu
      client_id: portal
      client_secret: s3cret
      redirect_url: https://portal.campus.edu/auth/oauth/campus/callback
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "campus-portal", cfg.Token.Issuer)
	assert.Equal(t, 2*time.Hour, cfg.Token.Lifetime)
	assert.Equal(t, auth.DefaultExtendedTokenLifetime, cfg.Token.ExtendedLifetime)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, auth.DefaultAPIKeyHeader, cfg.Guard.APIKeyHeader)

	fed := cfg.FederationConfig()
	assert.Equal(t, social.ProvisionAutoPending, fed.Policy)
	assert.Equal(t, auth.RoleClub, fed.DefaultRole)
	assert.True(t, fed.RequireEmailVerified)

	require.Len(t, cfg.Federation.Providers, 1)
	assert.Equal(t, "campus", cfg.Federation.Providers[0].Name)

	tc := cfg.TokenConfig()
	assert.Equal(t, []byte(testKey), tc.SigningKey)

	perms, err := cfg.PermissionMap()
	require.NoError(t, err)
	assert.Equal(t, "/faculty/reviews", perms.LandingRoute(auth.RoleFaculty))
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "token:\n  issuer: campus-portal\n")
	t.Setenv("AUTHGATE_TOKEN_SIGNING_KEY", testKey)
	t.Setenv("AUTHGATE_GUARD_API_KEY", "service-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testKey, cfg.Token.SigningKey)
	assert.Equal(t, "service-key", cfg.GuardConfig().APIKey)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing signing key",
			body: "token:\n  issuer: x\n",
		},
		{
			name: "short signing key",
			body: "token:\n  signing_key: short\n",
		},
		{
			name: "unknown policy",
			body: "token:\n  signing_key: \"" + testKey + "\"\nfederation:\n  policy: create-admins\n",
		},
		{
			name: "admin default role",
			body: "token:\n  signing_key: \"" + testKey + "\"\nfederation:\n  default_role: admin\n",
		},
		{
			name: "unknown driver",
			body: "token:\n  signing_key: \"" + testKey + "\"\ndatabase:\n  driver: oracle\n",
		},
		{
			name: "incomplete provider",
			body: "token:\n  signing_key: \"" + testKey + "\"\nfederation:\n  providers:\n    - name: campus\n",
		},
		{
			name: "permissions missing a role",
			body: "token:\n  signing_key: \"" + testKey + "\"\npermissions:\n  - role: student\n    landing_route: /s\n",
		},
		{
			name: "admin seed without password",
			body: "token:\n  signing_key: \"" + testKey + "\"\nbootstrap:\n  admin_email: root@campus.edu\n",
		},
		{
			name: "admin seed with short password",
			body: "token:\n  signing_key: \"" + testKey + "\"\nbootstrap:\n  admin_email: root@campus.edu\n  admin_password: short\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, auth.ErrConfiguration), "got %v", err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, auth.IsConfigurationError(err))
}

func TestBootstrapAdmin(t *testing.T) {
	cfg, err := Load(writeConfig(t, "token:\n  signing_key: \""+testKey+"\"\n"))
	require.NoError(t, err)

	_, ok := cfg.BootstrapAdmin()
	assert.False(t, ok)

	cfg, err = Load(writeConfig(t, "token:\n  signing_key: \""+testKey+"\"\n"+
		"bootstrap:\n  admin_email: root@campus.edu\n  admin_password: correct-horse-battery\n"))
	require.NoError(t, err)

	msg, ok := cfg.BootstrapAdmin()
	require.True(t, ok)
	assert.Equal(t, "root@campus.edu", msg.Email)
	assert.Equal(t, "correct-horse-battery", msg.Password)
	assert.Equal(t, "Administrator", msg.DisplayName)
	assert.Equal(t, auth.RoleAdmin, msg.Role)
	assert.Equal(t, "bootstrap", msg.ActorID)
}
