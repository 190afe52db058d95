package social

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-auth-gate"
)

// errStateNotFound is returned by state stores when nothing is stored for an
// attempt or the entry expired. The federator reports it as a state mismatch.
var errStateNotFound = errors.New("oauth state not found")

// ProviderError captures normalized provider response details.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = e.Provider
	}

	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// wrapProviderError tags err as a provider failure while keeping the
// original error reachable through errors.As.
func wrapProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return fmt.Errorf("%w: %w", auth.ErrProviderFailed, err)
	}
	return fmt.Errorf("%w: %w", auth.ErrProviderFailed, &ProviderError{Provider: provider, Operation: "identify", Err: err})
}
