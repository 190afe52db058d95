package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/oauth2"

	"github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/social"
)

// DefaultName is used when Config.Name is empty.
const DefaultName = "oidc"

// Config holds the OpenID Connect client settings.
type Config struct {
	Name         string   `mapstructure:"name"`
	Issuer       string   `mapstructure:"issuer"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`

	HTTPClient *http.Client `mapstructure:"-"`
}

// DefaultScopes returns the scopes requested when none are configured.
func DefaultScopes() []string {
	return []string{gooidc.ScopeOpenID, "email", "profile"}
}

// Validate checks the client settings.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Issuer, validation.Required, is.URL),
		validation.Field(&c.ClientID, validation.Required),
		validation.Field(&c.ClientSecret, validation.Required),
		validation.Field(&c.RedirectURL, validation.Required, is.URL),
	)
}

// Provider implements social.Provider for any issuer that publishes a
// discovery document.
type Provider struct {
	name       string
	oauth2     oauth2.Config
	provider   *gooidc.Provider
	verifier   *gooidc.IDTokenVerifier
	httpClient *http.Client
}

// New runs discovery against cfg.Issuer and returns a ready provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrProviderNotConfigured, err)
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = DefaultName
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	discoveryCtx := gooidc.ClientContext(ctx, client)
	oidcProvider, err := gooidc.NewProvider(discoveryCtx, cfg.Issuer)
	if err != nil {
		return nil, &social.ProviderError{Provider: name, Operation: "discovery", Err: err}
	}

	endpoint := oidcProvider.Endpoint()
	return &Provider{
		name: name,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoint.AuthURL,
				TokenURL:  endpoint.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		provider:   oidcProvider,
		verifier:   oidcProvider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		httpClient: client,
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state)
}

type profileClaims struct {
	Name          string `json:"name"`
	PreferredName string `json:"preferred_username"`
	Picture       string `json:"picture"`
}

// Identify exchanges code and reads the user info endpoint. When the token
// response carries an id_token its subject must match the user info subject.
func (p *Provider) Identify(ctx context.Context, code string) (*social.Profile, error) {
	ctx = gooidc.ClientContext(ctx, p.httpClient)

	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, p.exchangeError(err)
	}

	info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, &social.ProviderError{Provider: p.name, Operation: "userinfo", Err: err}
	}
	if info.Subject == "" {
		return nil, &social.ProviderError{Provider: p.name, Operation: "userinfo", Description: "missing subject"}
	}

	if rawID, ok := token.Extra("id_token").(string); ok && rawID != "" {
		idToken, err := p.verifier.Verify(ctx, rawID)
		if err != nil {
			return nil, &social.ProviderError{Provider: p.name, Operation: "id_token", Err: err}
		}
		if idToken.Subject != info.Subject {
			return nil, &social.ProviderError{Provider: p.name, Operation: "id_token", Description: "subject mismatch"}
		}
	}

	var claims profileClaims
	raw := map[string]any{}
	if err := info.Claims(&claims); err != nil {
		return nil, &social.ProviderError{Provider: p.name, Operation: "userinfo", Err: err}
	}
	_ = info.Claims(&raw)

	name := claims.Name
	if name == "" {
		name = claims.PreferredName
	}

	return &social.Profile{
		Provider:       p.name,
		ProviderUserID: info.Subject,
		Email:          info.Email,
		EmailVerified:  info.EmailVerified,
		Name:           name,
		AvatarURL:      claims.Picture,
		Raw:            raw,
	}, nil
}

func (p *Provider) exchangeError(err error) error {
	perr := &social.ProviderError{Provider: p.name, Operation: "exchange", Err: err}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		perr.Code = retrieveErr.ErrorCode
		perr.Description = retrieveErr.ErrorDescription
		if retrieveErr.Response != nil {
			perr.Status = retrieveErr.Response.StatusCode
		}
	}
	return perr
}
