package auth

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an identity that end up in a credential
type Identity interface {
	ID() string
	Email() string
	Role() string
	Approved() bool
}

// IdentityStore is the persistence boundary for identity records. Every
// method must be atomic with respect to email and provider id uniqueness.
type IdentityStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByProviderID(ctx context.Context, providerID string) (*User, error)
	Create(ctx context.Context, record *User) (*User, error)
	LinkProviderID(ctx context.Context, id, providerID string) (*User, error)
	SetApproval(ctx context.Context, id string, approved bool, actorID string) (*User, error)
	UpdateProfile(ctx context.Context, id string, profile ProfileUpdate) (*User, error)
}

// LoginTracker is implemented by stores that record the last login time.
type LoginTracker interface {
	TrackLogin(ctx context.Context, id string) error
}

// ProfileUpdate carries provider supplied values; empty fields are left untouched.
type ProfileUpdate struct {
	DisplayName string
	AvatarURL   string
}

// IsEmpty reports whether the update carries no values.
func (p ProfileUpdate) IsEmpty() bool {
	return p.DisplayName == "" && p.AvatarURL == ""
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// defLogger writes to stdout. Calls of the form Info("message", "key", value)
// render as `message key=value`; anything else is a printf format.
type defLogger struct {
	out io.Writer
}

func (d defLogger) Error(format string, args ...any) {
	d.log("[ERR] AUTH ", format, args)
}

func (d defLogger) Warn(format string, args ...any) {
	d.log("[WRN] AUTH ", format, args)
}

func (d defLogger) Info(format string, args ...any) {
	d.log("[INF] AUTH ", format, args)
}

func (d defLogger) Debug(format string, args ...any) {
	d.log("[DBG] AUTH ", format, args)
}

func (d defLogger) log(prefix, format string, args []any) {
	out := d.out
	if out == nil {
		out = os.Stdout
	}

	fields, ok := pairsToFields(format, args)
	if !ok {
		fmt.Fprintf(out, prefix+newline(format), args...)
		return
	}

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(format)
	for i := 0; i < len(args); i += 2 {
		key := args[i].(string)
		fmt.Fprintf(&b, " %s=%v", key, fields[key])
	}
	fmt.Fprint(out, newline(b.String()))
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
