package social

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPController handles the provider redirect and callback routes.
type HTTPController struct {
	federator *Federator
	config    HTTPConfig
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// AttemptCookie holds the login attempt id between redirect and callback (default: "oauth_attempt")
	AttemptCookie string

	// CookieName for storing the session credential (default: "user")
	CookieName string

	// CookieSecure sets the Secure flag on cookies
	CookieSecure bool

	// CookieSameSite sets the SameSite attribute (default: "Lax")
	CookieSameSite string

	// SessionTTL is the lifetime of the credential cookie
	SessionTTL time.Duration

	// PendingRedirect is where users awaiting approval are sent
	PendingRedirect string

	// ErrorRedirect is the redirect for auth errors
	ErrorRedirect string

	// ErrorHandler handles errors (optional)
	ErrorHandler func(ctx router.Context, err error) error
}

// NewHTTPController creates a new federation HTTP controller.
func NewHTTPController(federator *Federator, cfg HTTPConfig) *HTTPController {
	if cfg.AttemptCookie == "" {
		cfg.AttemptCookie = "oauth_attempt"
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "user"
	}
	if cfg.CookieSameSite == "" {
		cfg.CookieSameSite = "Lax"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.PendingRedirect == "" {
		cfg.PendingRedirect = "/pending-approval"
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = "/login"
	}

	return &HTTPController{
		federator: federator,
		config:    cfg,
	}
}

// RegisterRoutes registers the federation routes, typically on "/auth/oauth".
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Get("/providers", c.ListProviders)
	group.Get("/:provider/callback", c.Callback)
	group.Get("/:provider", c.BeginAuth)
}

// ListProviders returns available providers.
func (c *HTTPController) ListProviders(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, map[string]any{
		"providers": c.federator.Providers(),
	})
}

// BeginAuth starts the OAuth flow.
func (c *HTTPController) BeginAuth(ctx router.Context) error {
	providerName := ctx.Param("provider")

	redirect, err := c.federator.Initiate(ctx.Context(), providerName, "", ctx.Query("redirect_url"))
	if err != nil {
		return c.handleError(ctx, err)
	}

	ctx.Cookie(&router.Cookie{
		Name:     c.config.AttemptCookie,
		Value:    redirect.AttemptID,
		Path:     "/",
		Expires:  time.Now().Add(c.federator.cfg.StateTTL),
		Secure:   c.config.CookieSecure,
		HTTPOnly: true,
		SameSite: c.config.CookieSameSite,
	})

	return ctx.Redirect(redirect.URL, http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback. The pending state is consumed on
// every path, including a provider error.
func (c *HTTPController) Callback(ctx router.Context) error {
	providerName := ctx.Param("provider")
	attemptID := ctx.Cookies(c.config.AttemptCookie)
	c.clearCookie(ctx, c.config.AttemptCookie)

	if errCode := ctx.Query("error"); errCode != "" {
		if err := c.federator.Abandon(ctx.Context(), providerName, attemptID, errCode); err != nil {
			return c.handleError(ctx, err)
		}
		redirectURL := appendQueryParam(c.config.ErrorRedirect, "oauth_error", errCode)
		return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
	}

	outcome, err := c.federator.Callback(ctx.Context(), providerName, attemptID, ctx.Query("state"), ctx.Query("code"))
	if err != nil {
		return c.handleError(ctx, err)
	}

	if outcome.Status == OutcomePendingApproval {
		redirectURL := appendQueryParam(c.config.PendingRedirect, "email", outcome.Pending.Email)
		return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
	}

	c.setAuthCookie(ctx, outcome.Token)
	return ctx.Redirect(outcome.RedirectTarget, http.StatusTemporaryRedirect)
}

func (c *HTTPController) setAuthCookie(ctx router.Context, token string) {
	ctx.Cookie(&router.Cookie{
		Name:     c.config.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(c.config.SessionTTL),
		Secure:   c.config.CookieSecure,
		HTTPOnly: true,
		SameSite: c.config.CookieSameSite,
	})
}

func (c *HTTPController) clearCookie(ctx router.Context, name string) {
	ctx.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour),
		Secure:   c.config.CookieSecure,
		HTTPOnly: true,
		SameSite: c.config.CookieSameSite,
	})
}

func (c *HTTPController) handleError(ctx router.Context, err error) error {
	if c.config.ErrorHandler != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	code := "auth_failed"
	var richErr *goerrors.Error
	if errors.As(err, &richErr) && richErr.TextCode != "" {
		code = strings.ToLower(richErr.TextCode)
	}

	redirectURL := appendQueryParam(c.config.ErrorRedirect, "error", code)
	return ctx.Redirect(redirectURL, http.StatusTemporaryRedirect)
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
