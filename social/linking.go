package social

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-auth-gate"
)

// ProvisioningPolicy decides what happens when a confirmed provider identity
// matches no local account.
type ProvisioningPolicy string

const (
	// ProvisionReject refuses unknown identities with auth.ErrAccountNotFound.
	ProvisionReject ProvisioningPolicy = "reject"
	// ProvisionAutoPending creates an unapproved account with the default role.
	ProvisionAutoPending ProvisioningPolicy = "auto-provision-pending"
)

// ParseProvisioningPolicy accepts the configuration spelling of a policy.
// An empty value is ProvisionReject.
func ParseProvisioningPolicy(value string) (ProvisioningPolicy, error) {
	switch ProvisioningPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", ProvisionReject:
		return ProvisionReject, nil
	case ProvisionAutoPending:
		return ProvisionAutoPending, nil
	default:
		return "", fmt.Errorf("%w: unknown provisioning policy %q", auth.ErrConfiguration, value)
	}
}

// Resolution is the local record a provider identity resolved to.
type Resolution struct {
	User    *auth.User
	Created bool
	Linked  bool
}

// Resolver maps a confirmed provider profile to a local record: provider id
// first, then email with a one-time link, then the provisioning policy.
type Resolver struct {
	Store                auth.IdentityStore
	Policy               ProvisioningPolicy
	DefaultRole          auth.UserRole
	RequireEmailVerified bool
	Logger               auth.Logger
}

// Resolve runs the resolution order for profile.
func (r *Resolver) Resolve(ctx context.Context, profile *Profile) (*Resolution, error) {
	if profile == nil || profile.ProviderKey() == "" {
		return nil, fmt.Errorf("%w: provider returned no subject", auth.ErrProviderFailed)
	}

	if r.RequireEmailVerified && !profile.EmailVerified {
		return nil, auth.ErrEmailUnverified
	}

	res, err := r.resolveExisting(ctx, profile)
	if err == nil || !errors.Is(err, auth.ErrAccountNotFound) {
		return res, err
	}

	return r.provision(ctx, profile)
}

func (r *Resolver) resolveExisting(ctx context.Context, profile *Profile) (*Resolution, error) {
	key := profile.ProviderKey()

	user, err := r.Store.FindByProviderID(ctx, key)
	switch {
	case err == nil:
		return &Resolution{User: r.refreshProfile(ctx, user, profile)}, nil
	case !auth.IsNotFound(err):
		return nil, fmt.Errorf("failed to find account by provider id: %w", err)
	}

	email := auth.NormalizeEmail(profile.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: provider returned no email", auth.ErrAccountNotFound)
	}

	user, err = r.Store.FindByEmail(ctx, email)
	switch {
	case err == nil:
	case auth.IsNotFound(err):
		return nil, auth.ErrAccountNotFound
	default:
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}

	if user.HasProvider() && user.ProviderIDValue() != key {
		return nil, auth.ErrLinkConflict
	}

	linked, err := r.Store.LinkProviderID(ctx, user.ID.String(), key)
	if err != nil {
		return nil, err
	}

	return &Resolution{User: r.refreshProfile(ctx, linked, profile), Linked: true}, nil
}

func (r *Resolver) provision(ctx context.Context, profile *Profile) (*Resolution, error) {
	if r.Policy != ProvisionAutoPending {
		return nil, auth.ErrAccountNotFound
	}

	role := r.DefaultRole
	if !auth.IsValidRole(role) {
		role = auth.RoleStudent
	}

	key := profile.ProviderKey()
	created, err := r.Store.Create(ctx, &auth.User{
		Email:       auth.NormalizeEmail(profile.Email),
		ProviderID:  &key,
		DisplayName: profile.Name,
		AvatarURL:   profile.AvatarURL,
		Role:        role,
		Approved:    false,
		Metadata: map[string]any{
			"provisioned_by": profile.Provider,
		},
	})
	if err != nil {
		// a concurrent callback for the same identity may have won the insert
		if errors.Is(err, auth.ErrEmailTaken) || errors.Is(err, auth.ErrLinkConflict) {
			if user, findErr := r.Store.FindByProviderID(ctx, key); findErr == nil {
				return &Resolution{User: user}, nil
			}
		}
		return nil, err
	}

	return &Resolution{User: created, Created: true}, nil
}

// refreshProfile stores newer provider values. Failures are logged and the
// unrefreshed record is returned.
func (r *Resolver) refreshProfile(ctx context.Context, user *auth.User, profile *Profile) *auth.User {
	update := auth.ProfileUpdate{}
	if profile.Name != "" && profile.Name != user.DisplayName {
		update.DisplayName = profile.Name
	}
	if profile.AvatarURL != "" && profile.AvatarURL != user.AvatarURL {
		update.AvatarURL = profile.AvatarURL
	}
	if update.IsEmpty() {
		return user
	}

	updated, err := r.Store.UpdateProfile(ctx, user.ID.String(), update)
	if err != nil {
		r.logger().Warn("profile refresh failed", "user_id", user.ID.String(), "error", err)
		return user
	}
	return updated
}

func (r *Resolver) logger() auth.Logger {
	if r.Logger == nil {
		return auth.NewLogrusLogger(nil)
	}
	return r.Logger
}
