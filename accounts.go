package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
)

// RegisterInput holds the values for a new account.
type RegisterInput struct {
	Email        string       `json:"email"`
	Password     string       `json:"password"`
	DisplayName  string       `json:"display_name"`
	Role         UserRole     `json:"role"`
	Organization Organization `json:"organization"`
	ProviderID   string       `json:"provider_id,omitempty"`
}

// LoginResult is returned by a successful password login.
type LoginResult struct {
	Token        string `json:"token"`
	User         *User  `json:"user"`
	LandingRoute string `json:"landing_route"`
}

// Accounts covers the password login and account lifecycle operations.
type Accounts struct {
	store   IdentityStore
	tokens  *TokenService
	perms   *PermissionMap
	hasher  PasswordAuthenticator
	auditor *Auditor
	logger  Logger
	now     func() time.Time

	dummyOnce sync.Once
	dummy     string
	// UseHashid derives record ids from the email so imports are repeatable.
	UseHashid bool
}

// AccountsOption customizes Accounts
type AccountsOption func(*Accounts)

// WithAccountsHasher overrides the password hasher.
func WithAccountsHasher(h PasswordAuthenticator) AccountsOption {
	return func(a *Accounts) {
		if h != nil {
			a.hasher = h
		}
	}
}

// WithAccountsAuditor sets the auditor.
func WithAccountsAuditor(au *Auditor) AccountsOption {
	return func(a *Accounts) {
		if au != nil {
			a.auditor = au
		}
	}
}

// WithAccountsLogger sets the logger.
func WithAccountsLogger(logger Logger) AccountsOption {
	return func(a *Accounts) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAccountsHashid turns on email derived ids.
func WithAccountsHashid() AccountsOption {
	return func(a *Accounts) {
		a.UseHashid = true
	}
}

// NewAccounts wires the account operations.
func NewAccounts(store IdentityStore, tokens *TokenService, perms *PermissionMap, opts ...AccountsOption) *Accounts {
	a := &Accounts{
		store:  store,
		tokens: tokens,
		perms:  perms,
		hasher: BcryptHasher{},
		logger: defLogger{},
		now:    time.Now,
	}
	if a.perms == nil {
		a.perms = MustPermissionMap(DefaultPermissions())
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.auditor == nil {
		a.auditor = NewAuditor(nil, a.logger)
	}
	return a
}

// Login checks a password and issues a credential. Unknown emails and wrong
// passwords report the same error.
func (a *Accounts) Login(ctx context.Context, email, password string, rememberMe bool) (*LoginResult, error) {
	email = NormalizeEmail(email)

	user, err := a.store.FindByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			a.compareDummy(password)
			a.loginFailed(ctx, "", email, "unknown email")
			return nil, ErrInvalidCredentials
		}
		a.logger.Error("login store lookup failed", "error", err)
		return nil, err
	}

	if user.PasswordHash == "" {
		a.compareDummy(password)
		a.loginFailed(ctx, user.ID.String(), email, "no password set")
		return nil, ErrInvalidCredentials
	}

	if err := a.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		a.loginFailed(ctx, user.ID.String(), email, "password mismatch")
		return nil, ErrInvalidCredentials
	}

	if !user.Approved {
		a.loginFailed(ctx, user.ID.String(), email, "pending approval")
		return nil, ErrPendingApproval
	}

	token, err := a.tokens.Issue(NewIdentityFromUser(user), rememberMe)
	if err != nil {
		return nil, err
	}

	if tracker, ok := a.store.(LoginTracker); ok {
		if err := tracker.TrackLogin(ctx, user.ID.String()); err != nil {
			a.logger.Warn("failed to track login", "user_id", user.ID.String(), "error", err)
		}
	}

	a.auditor.Record(ctx, AuditRecord{
		Action:    AuditActionLoginSuccess,
		SubjectID: user.ID.String(),
		Role:      user.Role,
		Metadata:  map[string]any{"remember": rememberMe},
	})

	return &LoginResult{
		Token:        token,
		User:         user,
		LandingRoute: a.perms.LandingRoute(user.Role),
	}, nil
}

// compareDummy spends one hash comparison on branches that have no stored
// hash, so failed logins take the same time whether or not the email exists.
func (a *Accounts) compareDummy(password string) {
	a.dummyOnce.Do(func() {
		hash, err := a.hasher.HashPassword("no account matches this password")
		if err != nil {
			a.logger.Warn("failed to prepare dummy password hash", "error", err)
			return
		}
		a.dummy = hash
	})
	if a.dummy != "" {
		_ = a.hasher.ComparePasswordAndHash(password, a.dummy)
	}
}

func (a *Accounts) loginFailed(ctx context.Context, subjectID, email, reason string) {
	a.logger.Info("login rejected", "reason", reason)
	a.auditor.Record(ctx, AuditRecord{
		Action:    AuditActionLoginFailure,
		SubjectID: subjectID,
		Metadata:  map[string]any{"email": email, "reason": reason},
	})
}

// Register creates a self-service account. Self-registered accounts always
// start unapproved and may not claim the admin role.
func (a *Accounts) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if in.Role == "" {
		in.Role = RoleStudent
	}
	if in.Role == RoleAdmin {
		return nil, fmt.Errorf("%w: admin accounts cannot self-register", ErrForbidden)
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidIdentity)
	}

	user, err := a.newRecord(in)
	if err != nil {
		return nil, err
	}

	created, err := a.store.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	a.auditor.Record(ctx, AuditRecord{
		Action:    AuditActionRegistered,
		SubjectID: created.ID.String(),
		Role:      created.Role,
		Metadata:  map[string]any{"self_service": true},
	})
	return created, nil
}

// CreateAccount creates an account on behalf of an administrator. Approval
// defaults from the role's permission entry.
func (a *Accounts) CreateAccount(ctx context.Context, actorID string, in RegisterInput) (*User, error) {
	user, err := a.newRecord(in)
	if err != nil {
		return nil, err
	}

	if a.perms.AutoApprove(user.Role) {
		now := a.now()
		user.Approved = true
		user.ApprovedBy = actorID
		user.ApprovedAt = &now
	}

	created, err := a.store.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	a.auditor.Record(ctx, AuditRecord{
		Action:    AuditActionRegistered,
		SubjectID: created.ID.String(),
		Role:      created.Role,
		Metadata:  map[string]any{"actor": actorID, "approved": created.Approved},
	})
	return created, nil
}

// Approve marks an account approved. Approving an approved account keeps the
// original actor and timestamp.
func (a *Accounts) Approve(ctx context.Context, actorID, userID string) (*User, error) {
	user, err := a.store.SetApproval(ctx, userID, true, actorID)
	if err != nil {
		return nil, err
	}

	a.auditor.Record(ctx, AuditRecord{
		Action:    AuditActionApproved,
		SubjectID: user.ID.String(),
		Role:      user.Role,
		Metadata:  map[string]any{"actor": actorID},
	})
	return user, nil
}

func (a *Accounts) newRecord(in RegisterInput) (*User, error) {
	user := &User{
		Email:        NormalizeEmail(in.Email),
		DisplayName:  in.DisplayName,
		Role:         in.Role,
		Organization: in.Organization,
	}

	if in.ProviderID != "" {
		pid := in.ProviderID
		user.ProviderID = &pid
	}

	if in.Password != "" {
		hash, err := a.hasher.HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	if err := user.Validate(); err != nil {
		return nil, err
	}

	if a.UseHashid {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	return user, nil
}
