package auth

import (
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-router"
)

// RegisterAuthRoutes mounts the password login, refresh, registration,
// profile and approval routes.
func RegisterAuthRoutes[T any](app router.Router[T], controller *AuthController) {
	app.Post(controller.Routes.Login, controller.LoginPost).SetName("auth.login")
	app.Post(controller.Routes.Refresh, controller.RefreshPost).SetName("auth.refresh")
	app.Post(controller.Routes.Register, controller.RegisterPost).SetName("auth.register")

	app.Get(controller.Routes.Me, controller.Me,
		Protect(controller.Guard, RouteRule{Tag: "auth.me"}, controller.protectOpts...),
	).SetName("auth.me")

	app.Post(controller.Routes.Approve, controller.ApprovePost,
		Protect(controller.Guard, RouteRule{Tag: "admin.users.approve", Capability: CapUserApprove}, controller.protectOpts...),
	).SetName("admin.users.approve")
}

type AuthControllerRoutes struct {
	Login    string
	Refresh  string
	Register string
	Me       string
	Approve  string
}

// AuthController exposes Accounts and the token service over HTTP.
type AuthController struct {
	Logger       Logger
	Accounts     *Accounts
	Tokens       *TokenService
	Guard        *Guard
	Routes       *AuthControllerRoutes
	ErrorHandler ErrorHandler
	protectOpts  []ProtectOption
}

type AuthControllerOption func(*AuthController) *AuthController

// WithControllerProtectOptions passes options to the Protect middleware of guarded routes.
func WithControllerProtectOptions(opts ...ProtectOption) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.protectOpts = append(c.protectOpts, opts...)
		return c
	}
}

// WithControllerLogger sets the logger.
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
			c.ErrorHandler = JSONErrorHandler(logger)
		}
		return c
	}
}

func NewAuthController(accounts *Accounts, tokens *TokenService, guard *Guard, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		Accounts:     accounts,
		Tokens:       tokens,
		Guard:        guard,
		ErrorHandler: JSONErrorHandler(nil),
		Routes: &AuthControllerRoutes{
			Login:    "/auth/login",
			Refresh:  "/auth/refresh",
			Register: "/auth/register",
			Me:       "/auth/me",
			Approve:  "/admin/users/:id/approve",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Accounts == nil || c.Tokens == nil || c.Guard == nil {
		panic("auth controller requires accounts, tokens and guard")
	}

	return c
}

// LoginRequest payload
type LoginRequest struct {
	Email      string `form:"email" json:"email"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshRequest payload
type RefreshRequest struct {
	Token string `form:"token" json:"token"`
}

// RegisterRequest payload
type RegisterRequest struct {
	Email        string       `form:"email" json:"email"`
	Password     string       `form:"password" json:"password"`
	DisplayName  string       `form:"display_name" json:"display_name"`
	Role         string       `form:"role" json:"role"`
	Organization Organization `json:"organization"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 0)),
		validation.Field(&r.Role, validation.In(toAny(GetAllRoles())...)),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.validationError(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	result, err := a.Accounts.Login(ctx.Context(), payload.Email, payload.Password, payload.RememberMe)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, result)
}

// RefreshPost replaces a credential. The credential is read from the
// authorization header, or the body when the header is absent.
func (a *AuthController) RefreshPost(ctx router.Context) error {
	cfg := a.Guard.Config()
	token, ok := ExtractBearer(ctx.GetString(cfg.AuthHeader, ""), cfg.AuthScheme)
	if !ok {
		payload := new(RefreshRequest)
		if err := ctx.Bind(payload); err != nil || payload.Token == "" {
			return a.ErrorHandler(ctx, ErrMissingCredential)
		}
		token = payload.Token
	}

	refreshed, err := a.Tokens.Refresh(ctx.Context(), token)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{"token": refreshed})
}

func (a *AuthController) RegisterPost(ctx router.Context) error {
	payload := new(RegisterRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.validationError(ctx, err)
	}
	if err := payload.Validate(); err != nil {
		return a.validationError(ctx, err)
	}

	user, err := a.Accounts.Register(ctx.Context(), RegisterInput{
		Email:        payload.Email,
		Password:     payload.Password,
		DisplayName:  payload.DisplayName,
		Role:         payload.Role,
		Organization: payload.Organization,
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"user":   user,
		"status": "pending_approval",
	})
}

// Me returns the principal resolved by the guard.
func (a *AuthController) Me(ctx router.Context) error {
	principal, ok := PrincipalFromContext(ctx.Context())
	if !ok {
		return a.ErrorHandler(ctx, ErrMissingCredential)
	}
	return ctx.JSON(router.StatusOK, principal)
}

func (a *AuthController) ApprovePost(ctx router.Context) error {
	principal, ok := PrincipalFromContext(ctx.Context())
	if !ok {
		return a.ErrorHandler(ctx, ErrMissingCredential)
	}

	user, err := a.Accounts.Approve(ctx.Context(), principal.ID, ctx.Param("id"))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, user)
}

func (a *AuthController) validationError(ctx router.Context, err error) error {
	a.Logger.Debug("invalid request payload", "error", err)
	return ctx.JSON(router.StatusBadRequest, ErrorResponse{
		Error: err.Error(),
		Code:  TextCodeInvalidIdentity,
	})
}
