package auth

import (
	"net/http"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// ErrorHandler renders a guard or controller failure.
type ErrorHandler func(ctx router.Context, err error) error

type protectConfig struct {
	contextKey   string
	cookieName   string
	errorHandler ErrorHandler
}

// ProtectOption customizes the Protect middleware
type ProtectOption func(*protectConfig)

// WithProtectContextKey sets the locals key the principal is stored under.
func WithProtectContextKey(key string) ProtectOption {
	return func(c *protectConfig) {
		if key != "" {
			c.contextKey = key
		}
	}
}

// WithProtectCookie reads the credential from cookie name when the
// authorization header is absent.
func WithProtectCookie(name string) ProtectOption {
	return func(c *protectConfig) {
		c.cookieName = name
	}
}

// WithProtectErrorHandler overrides how failures are rendered.
func WithProtectErrorHandler(h ErrorHandler) ProtectOption {
	return func(c *protectConfig) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// Protect adapts the guard into router middleware for one route rule. On
// success the principal is stored in locals and in the request context.
func Protect(guard *Guard, rule RouteRule, opts ...ProtectOption) router.MiddlewareFunc {
	cfg := protectConfig{
		contextKey:   DefaultContextKey,
		errorHandler: JSONErrorHandler(guard.logger),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	gcfg := guard.Config()

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			req := AccessRequest{
				Rule:          rule,
				Authorization: ctx.GetString(gcfg.AuthHeader, ""),
				APIKey:        ctx.GetString(gcfg.APIKeyHeader, ""),
			}
			if req.Authorization == "" && cfg.cookieName != "" {
				if token := ctx.Cookies(cfg.cookieName); token != "" {
					req.Authorization = gcfg.AuthScheme + " " + token
				}
			}

			principal, err := guard.Authorize(ctx.Context(), req)
			if err != nil {
				return cfg.errorHandler(ctx, err)
			}

			ctx.Locals(cfg.contextKey, principal)
			reqCtx := WithPrincipal(ctx.Context(), principal)
			if principal.Claims != nil {
				reqCtx = WithClaimsContext(reqCtx, principal.Claims)
			}
			ctx.SetContext(reqCtx)

			return next(ctx)
		}
	}
}

// ErrorResponse is the JSON body written for failures.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// NewErrorResponse builds the body for err. Unknown errors never leak their message.
func NewErrorResponse(err error) ErrorResponse {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return ErrorResponse{Error: "An unexpected server error occurred"}
	}
	return ErrorResponse{
		Error:     richErr.Message,
		Code:      richErr.TextCode,
		Retryable: IsRetryable(err),
	}
}

// JSONErrorHandler writes failures as JSON with the status from StatusForError.
func JSONErrorHandler(logger Logger) ErrorHandler {
	logger = normalizeLogger(logger)
	return func(ctx router.Context, err error) error {
		status := StatusForError(err)

		var richErr *errors.Error
		if errors.As(err, &richErr) {
			logger.Debug("request rejected",
				"error", err,
				"category", richErr.Category,
				"details", print.MaybePrettyJSON(richErr.Metadata),
			)
		} else {
			logger.Error("request failed", "error", err)
		}

		if status == http.StatusOK {
			status = http.StatusInternalServerError
		}
		return ctx.JSON(status, NewErrorResponse(err))
	}
}
