package social

import (
	"context"
)

// Provider is an external identity provider. Identify performs the code
// exchange and profile fetch as one blocking call; callers bound it with ctx.
type Provider interface {
	// Name returns the provider identifier (e.g. "google", "campus").
	Name() string

	// AuthCodeURL returns the URL to redirect users for authorization with
	// state embedded as the state parameter.
	AuthCodeURL(state string) string

	// Identify trades an authorization code for the confirmed profile.
	Identify(ctx context.Context, code string) (*Profile, error)
}

// Profile is the identity the provider confirmed.
type Profile struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	AvatarURL      string
	Raw            map[string]any
}

// ProviderKey is the value stored as the record's provider id. Subjects are
// namespaced by provider so two providers never collide.
func (p *Profile) ProviderKey() string {
	if p == nil || p.ProviderUserID == "" {
		return ""
	}
	if p.Provider == "" {
		return p.ProviderUserID
	}
	return p.Provider + ":" + p.ProviderUserID
}
