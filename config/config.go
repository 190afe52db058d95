package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/social"
	"github.com/goliatone/go-auth-gate/social/providers/oidc"
)

// EnvPrefix prefixes every environment override, e.g. AUTHGATE_TOKEN_SIGNING_KEY.
const EnvPrefix = "AUTHGATE"

const minSigningKeyLength = 32

// Config is the runtime configuration of the authgate binary.
type Config struct {
	Server struct {
		Address     string `mapstructure:"address"`
		MetricsAddr string `mapstructure:"metrics_address"`
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logs"`

	Database struct {
		Driver string `mapstructure:"driver"` // sqlite | postgres
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Redis struct {
		Address   string `mapstructure:"address"` // empty keeps nonces in memory
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`

	Token struct {
		SigningKey       string        `mapstructure:"signing_key"`
		Issuer           string        `mapstructure:"issuer"`
		Audience         []string      `mapstructure:"audience"`
		Lifetime         time.Duration `mapstructure:"lifetime"`
		ExtendedLifetime time.Duration `mapstructure:"extended_lifetime"`
	} `mapstructure:"token"`

	Guard struct {
		APIKey       string `mapstructure:"api_key"`
		APIKeyHeader string `mapstructure:"api_key_header"`
	} `mapstructure:"guard"`

	Cookies struct {
		Name     string `mapstructure:"name"`
		Secure   bool   `mapstructure:"secure"`
		SameSite string `mapstructure:"same_site"`
	} `mapstructure:"cookies"`

	Federation struct {
		Policy               string        `mapstructure:"policy"`
		DefaultRole          string        `mapstructure:"default_role"`
		RequireEmailVerified bool          `mapstructure:"require_email_verified"`
		StateTTL             time.Duration `mapstructure:"state_ttl"`
		ProviderTimeout      time.Duration `mapstructure:"provider_timeout"`
		PendingRedirect      string        `mapstructure:"pending_redirect"`
		ErrorRedirect        string        `mapstructure:"error_redirect"`
		Providers            []oidc.Config `mapstructure:"providers"`
		GitHub               struct {
			ClientID     string `mapstructure:"client_id"`
			ClientSecret string `mapstructure:"client_secret"`
			CallbackURL  string `mapstructure:"callback_url"`
		} `mapstructure:"github"`
	} `mapstructure:"federation"`

	Bootstrap struct {
		AdminEmail    string `mapstructure:"admin_email"` // empty skips seeding
		AdminPassword string `mapstructure:"admin_password"`
		AdminName     string `mapstructure:"admin_name"`
	} `mapstructure:"bootstrap"`

	Permissions []auth.RolePermission `mapstructure:"permissions"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.metrics_address", ":9090")

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:authgate.db?cache=shared")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", social.DefaultStateKeyPrefix)

	v.SetDefault("token.signing_key", "")
	v.SetDefault("token.issuer", "authgate")
	v.SetDefault("token.audience", []string{})
	v.SetDefault("token.lifetime", auth.DefaultTokenLifetime)
	v.SetDefault("token.extended_lifetime", auth.DefaultExtendedTokenLifetime)

	v.SetDefault("guard.api_key", "")
	v.SetDefault("guard.api_key_header", auth.DefaultAPIKeyHeader)

	v.SetDefault("cookies.name", "user")
	v.SetDefault("cookies.secure", true)
	v.SetDefault("cookies.same_site", "Lax")

	v.SetDefault("federation.policy", string(social.ProvisionReject))
	v.SetDefault("federation.default_role", auth.RoleStudent)
	v.SetDefault("federation.require_email_verified", true)
	v.SetDefault("federation.state_ttl", social.DefaultStateTTL)
	v.SetDefault("federation.provider_timeout", social.DefaultProviderTimeout)
	v.SetDefault("federation.pending_redirect", "/pending-approval")
	v.SetDefault("federation.error_redirect", "/login")
	v.SetDefault("federation.github.client_id", "")
	v.SetDefault("federation.github.client_secret", "")
	v.SetDefault("federation.github.callback_url", "")

	v.SetDefault("bootstrap.admin_email", "")
	v.SetDefault("bootstrap.admin_password", "")
	v.SetDefault("bootstrap.admin_name", "Administrator")
}

// Load reads path (optional) and AUTHGATE_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("authgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/authgate")
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: config read error: %v", auth.ErrConfiguration, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: config unmarshal error: %v", auth.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the binary cannot start without.
func (c *Config) Validate() error {
	err := validation.Errors{
		"token.signing_key": validation.Validate(c.Token.SigningKey,
			validation.Required, validation.Length(minSigningKeyLength, 0)),
		"database.driver": validation.Validate(c.Database.Driver,
			validation.Required, validation.In("sqlite", "postgres")),
		"database.dsn": validation.Validate(c.Database.DSN, validation.Required),
		"logs.format":  validation.Validate(c.Logging.Format, validation.In("text", "json")),
		"federation.default_role": validation.Validate(c.Federation.DefaultRole,
			validation.In(auth.RoleStudent, auth.RoleClub, auth.RoleFaculty)),
		"bootstrap.admin_password": validation.Validate(c.Bootstrap.AdminPassword,
			validation.When(c.Bootstrap.AdminEmail != "", validation.Required, validation.Length(12, 0))),
	}.Filter()
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrConfiguration, err)
	}

	if _, err := social.ParseProvisioningPolicy(c.Federation.Policy); err != nil {
		return err
	}

	for i, p := range c.Federation.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: federation.providers[%d]: %v", auth.ErrConfiguration, i, err)
		}
	}

	if len(c.Permissions) > 0 {
		if _, err := auth.NewPermissionMap(c.Permissions); err != nil {
			return err
		}
	}
	return nil
}

// TokenConfig returns the token service settings.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		SigningKey:       []byte(c.Token.SigningKey),
		Issuer:           c.Token.Issuer,
		Audience:         c.Token.Audience,
		Lifetime:         c.Token.Lifetime,
		ExtendedLifetime: c.Token.ExtendedLifetime,
	}
}

// GuardConfig returns the guard settings.
func (c *Config) GuardConfig() auth.GuardConfig {
	return auth.GuardConfig{
		APIKey:       c.Guard.APIKey,
		APIKeyHeader: c.Guard.APIKeyHeader,
	}
}

// FederationConfig returns the federator settings.
func (c *Config) FederationConfig() social.Config {
	policy, _ := social.ParseProvisioningPolicy(c.Federation.Policy)
	return social.Config{
		Policy:               policy,
		DefaultRole:          c.Federation.DefaultRole,
		RequireEmailVerified: c.Federation.RequireEmailVerified,
		StateTTL:             c.Federation.StateTTL,
		ProviderTimeout:      c.Federation.ProviderTimeout,
	}
}

// BootstrapAdmin returns the administrator seed message, or false when none is configured.
func (c *Config) BootstrapAdmin() (auth.CreateAccountMessage, bool) {
	if c.Bootstrap.AdminEmail == "" {
		return auth.CreateAccountMessage{}, false
	}
	return auth.CreateAccountMessage{
		Email:       c.Bootstrap.AdminEmail,
		Password:    c.Bootstrap.AdminPassword,
		DisplayName: c.Bootstrap.AdminName,
		Role:        auth.RoleAdmin,
		ActorID:     "bootstrap",
	}, true
}

// PermissionMap returns the configured map or the defaults.
func (c *Config) PermissionMap() (*auth.PermissionMap, error) {
	if len(c.Permissions) == 0 {
		return auth.NewPermissionMap(auth.DefaultPermissions())
	}
	return auth.NewPermissionMap(c.Permissions)
}
