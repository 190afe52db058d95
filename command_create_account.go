package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// CreateAccountMessage asks for an administrator created account.
type CreateAccountMessage struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	DisplayName string   `json:"display_name"`
	Role        UserRole `json:"role"`
	ActorID     string   `json:"actor_id"`
	// IgnoreExisting turns an email collision into a no-op, for idempotent seeding.
	IgnoreExisting bool `json:"ignore_existing"`
}

func (e CreateAccountMessage) Type() string { return "user.create" }

// CreateAccountHandler runs CreateAccountMessage through Accounts.
type CreateAccountHandler struct {
	accounts *Accounts
	timeout  time.Duration
}

// NewCreateAccountHandler returns a handler bound to accounts.
func NewCreateAccountHandler(accounts *Accounts) *CreateAccountHandler {
	return &CreateAccountHandler{accounts: accounts, timeout: 10 * time.Second}
}

func (h *CreateAccountHandler) Execute(ctx context.Context, msg CreateAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account creation",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *CreateAccountHandler) execute(ctx context.Context, msg CreateAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	_, err := h.accounts.CreateAccount(ctx, msg.ActorID, RegisterInput{
		Email:       msg.Email,
		Password:    msg.Password,
		DisplayName: msg.DisplayName,
		Role:        msg.Role,
	})
	if err == nil {
		return nil
	}

	if isErr(err, ErrEmailTaken) && msg.IgnoreExisting {
		h.accounts.logger.Info("account already exists", "email", NormalizeEmail(msg.Email))
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "account creation failed")
}
