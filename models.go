package auth

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the identity record
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string         `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string         `bun:"password_hash,nullzero" json:"-"`
	ProviderID    *string        `bun:"provider_id,unique" json:"provider_id,omitempty"`
	DisplayName   string         `bun:"display_name" json:"display_name,omitempty"`
	AvatarURL     string         `bun:"avatar_url" json:"avatar_url,omitempty"`
	Role          UserRole       `bun:"user_role,notnull" json:"user_role,omitempty"`
	Organization  Organization   `bun:"organization,type:jsonb" json:"organization,omitempty"`
	Approved      bool           `bun:"approved,notnull,default:false" json:"approved"`
	ApprovedBy    string         `bun:"approved_by,nullzero" json:"approved_by,omitempty"`
	ApprovedAt    *time.Time     `bun:"approved_at,nullzero" json:"approved_at,omitempty"`
	LoggedInAt    *time.Time     `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	Metadata      map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Organization describes the club or department a user acts for
type Organization struct {
	Name       string         `json:"name,omitempty"`
	Department string         `json:"department,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NormalizeEmail lower cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// recordIdentity is the snapshot of a User that goes into a credential.
type recordIdentity struct {
	id, email string
	role      UserRole
	approved  bool
}

func (r recordIdentity) ID() string     { return r.id }
func (r recordIdentity) Email() string  { return r.email }
func (r recordIdentity) Role() string   { return r.role }
func (r recordIdentity) Approved() bool { return r.approved }

// NewIdentityFromUser snapshots user for TokenService.Issue. A nil user gives a nil Identity.
func NewIdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	return recordIdentity{
		id:       user.ID.String(),
		email:    user.Email,
		role:     user.Role,
		approved: user.Approved,
	}
}

// HasProvider reports whether the record is linked to an external provider.
func (u *User) HasProvider() bool {
	return u.ProviderID != nil && *u.ProviderID != ""
}

// ProviderIDValue returns the linked provider id or "".
func (u *User) ProviderIDValue() string {
	if u.ProviderID == nil {
		return ""
	}
	return *u.ProviderID
}

// Validate checks the record invariants. A record must carry a password hash
// or a provider id, and its role must be one of the known roles.
func (u *User) Validate() error {
	err := validation.ValidateStruct(u,
		validation.Field(&u.Email, validation.Required, is.EmailFormat),
		validation.Field(&u.Role, validation.Required, validation.In(toAny(GetAllRoles())...)),
		validation.Field(&u.PasswordHash, validation.When(!u.HasProvider(), validation.Required.Error("password hash or provider id is required"))),
	)
	if err != nil {
		return wrapInvalidIdentity(err)
	}
	return nil
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

// Clone returns a deep enough copy for handing records across store boundaries.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.ProviderID != nil {
		pid := *u.ProviderID
		c.ProviderID = &pid
	}
	if u.ApprovedAt != nil {
		t := *u.ApprovedAt
		c.ApprovedAt = &t
	}
	if u.Metadata != nil {
		c.Metadata = make(map[string]any, len(u.Metadata))
		for k, v := range u.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// AuditEntry is the persisted form of an access audit record
type AuditEntry struct {
	bun.BaseModel `bun:"table:access_audit,alias:aud"`
	ID            string         `bun:"id,pk" json:"id"`
	Action        string         `bun:"action,notnull" json:"action"`
	SubjectID     string         `bun:"subject_id" json:"subject_id,omitempty"`
	Role          string         `bun:"role" json:"role,omitempty"`
	Route         string         `bun:"route" json:"route,omitempty"`
	Outcome       string         `bun:"outcome" json:"outcome,omitempty"`
	Metadata      map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull" json:"occurred_at"`
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
