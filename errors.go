package auth

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeConfiguration         = "AUTH_CONFIGURATION_ERROR"
	TextCodeProviderNotConfigured = "AUTH_PROVIDER_NOT_CONFIGURED"
	TextCodeMissingCredential     = "AUTH_MISSING_CREDENTIAL"
	TextCodeSignatureInvalid      = "AUTH_SIGNATURE_INVALID"
	TextCodeTokenExpired          = "AUTH_TOKEN_EXPIRED"
	TextCodeSubjectNotFound       = "AUTH_SUBJECT_NOT_FOUND"
	TextCodeNotApproved           = "AUTH_NOT_APPROVED"
	TextCodeForbidden             = "AUTH_FORBIDDEN"
	TextCodeStateMismatch         = "AUTH_STATE_MISMATCH"
	TextCodeLinkConflict          = "AUTH_LINK_CONFLICT"
	TextCodeAccountNotFound       = "AUTH_ACCOUNT_NOT_FOUND"
	TextCodeEmailUnverified       = "AUTH_EMAIL_UNVERIFIED"
	TextCodePendingApproval       = "AUTH_PENDING_APPROVAL"
	TextCodeAPIKeyInvalid         = "AUTH_API_KEY_INVALID"
	TextCodeEmailTaken            = "AUTH_EMAIL_TAKEN"
	TextCodeInvalidCredentials    = "AUTH_INVALID_CREDENTIALS"
	TextCodeProviderFailed        = "AUTH_PROVIDER_FAILED"
	TextCodeInvalidIdentity       = "AUTH_INVALID_IDENTITY"
	TextCodeIdentityNotFound      = "AUTH_IDENTITY_NOT_FOUND"
)

// ErrConfiguration is returned when a required secret or setting is missing.
// It is not retryable and should fail startup checks.
var ErrConfiguration = errors.New("authentication is not configured", errors.CategoryInternal).
	WithTextCode(TextCodeConfiguration).
	WithCode(errors.CodeInternal)

// ErrProviderNotConfigured is returned when an external provider is unknown or lacks credentials.
var ErrProviderNotConfigured = errors.New("identity provider is not configured", errors.CategoryInternal).
	WithTextCode(TextCodeProviderNotConfigured).
	WithCode(errors.CodeInternal)

// ErrMissingCredential is returned when the request carries no bearer credential.
var ErrMissingCredential = errors.New("missing credential", errors.CategoryAuth).
	WithTextCode(TextCodeMissingCredential).
	WithCode(errors.CodeUnauthorized)

// ErrSignatureInvalid is returned for tampered, malformed or foreign credentials.
var ErrSignatureInvalid = errors.New("credential signature is invalid", errors.CategoryAuth).
	WithTextCode(TextCodeSignatureInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned when the credential is past its expiry. Clients
// should call refresh instead of logging in again.
var ErrTokenExpired = errors.New("credential expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrSubjectNotFound is returned when the credential subject no longer exists.
var ErrSubjectNotFound = errors.New("credential subject not found", errors.CategoryAuth).
	WithTextCode(TextCodeSubjectNotFound).
	WithCode(errors.CodeUnauthorized)

// ErrNotApproved is returned when the account has not been approved by an administrator.
var ErrNotApproved = errors.New("account is not approved", errors.CategoryAuthz).
	WithTextCode(TextCodeNotApproved).
	WithCode(errors.CodeForbidden)

// ErrForbidden is returned when the caller's role does not satisfy the route rule.
var ErrForbidden = errors.New("access denied", errors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(errors.CodeForbidden)

// ErrStateMismatch is returned when the OAuth callback state does not match the stored nonce.
var ErrStateMismatch = errors.New("oauth state mismatch", errors.CategoryBadInput).
	WithTextCode(TextCodeStateMismatch).
	WithCode(errors.CodeBadRequest)

// ErrLinkConflict is returned when a provider id is already linked to a different account.
var ErrLinkConflict = errors.New("provider account already linked", errors.CategoryConflict).
	WithTextCode(TextCodeLinkConflict).
	WithCode(errors.CodeConflict)

// ErrAccountNotFound is returned by federation when no local account matches and
// provisioning is disabled. Users should contact an administrator.
var ErrAccountNotFound = errors.New("no account found, contact an administrator", errors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(errors.CodeNotFound)

// ErrEmailUnverified is returned when the provider reports an unverified email.
var ErrEmailUnverified = errors.New("provider email is not verified", errors.CategoryAuth).
	WithTextCode(TextCodeEmailUnverified).
	WithCode(errors.CodeForbidden)

// ErrPendingApproval is the error form of a pending-approval outcome.
var ErrPendingApproval = errors.New("account pending approval", errors.CategoryAuthz).
	WithTextCode(TextCodePendingApproval).
	WithCode(errors.CodeForbidden)

// ErrAPIKeyInvalid is returned when the server-to-server API key does not match.
var ErrAPIKeyInvalid = errors.New("invalid api key", errors.CategoryAuth).
	WithTextCode(TextCodeAPIKeyInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrEmailTaken is returned when creating a record with an email already in use.
var ErrEmailTaken = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(errors.CodeConflict)

// ErrInvalidCredentials is returned by password login for unknown email or bad password.
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrProviderFailed is returned when the external provider round trip fails.
var ErrProviderFailed = errors.New("identity provider request failed", errors.CategoryAuth).
	WithTextCode(TextCodeProviderFailed).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidIdentity is returned when an identity record violates its invariants.
var ErrInvalidIdentity = errors.New("invalid identity record", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidIdentity).
	WithCode(errors.CodeBadRequest)

// ErrIdentityNotFound is returned by identity stores when no record matches a lookup.
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(errors.CodeNotFound)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryBadInput).
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when the password does not match its hash.
var ErrMismatchedHashAndPassword = errors.New("password does not match", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// IsTokenExpiredError reports whether err signals an expired credential.
func IsTokenExpiredError(err error) bool {
	return stderrors.Is(err, ErrTokenExpired)
}

// IsRetryable reports whether the caller can recover without re-authenticating,
// which is only the case for expired credentials (via refresh).
func IsRetryable(err error) bool {
	return IsTokenExpiredError(err)
}

// IsNotFound reports whether a store lookup found no record.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrIdentityNotFound)
}

// IsConfigurationError reports configuration failures.
func IsConfigurationError(err error) bool {
	return stderrors.Is(err, ErrConfiguration) || stderrors.Is(err, ErrProviderNotConfigured)
}

func isErr(err, target error) bool {
	return stderrors.Is(err, target)
}

func wrapInvalidIdentity(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
}

// StatusForError maps an error from this package to an HTTP status code.
func StatusForError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var richErr *errors.Error
	if stderrors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}

	return http.StatusInternalServerError
}
