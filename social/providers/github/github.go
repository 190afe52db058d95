package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	githubendpoint "golang.org/x/oauth2/github"

	"github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/social"
)

const (
	defaultUserURL   = "https://api.github.com/user"
	defaultEmailsURL = "https://api.github.com/user/emails"

	// maxResponseBytes caps API response bodies.
	maxResponseBytes = 1 << 20
)

var errResponseTooLarge = errors.New("github response exceeds size limit")

// Config holds GitHub OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL   string
	TokenURL  string
	UserURL   string
	EmailsURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the default GitHub scopes.
func DefaultScopes() []string {
	return []string{"user:email", "read:user"}
}

// Provider implements social.Provider for GitHub, which does not speak
// OpenID Connect. The verified flag comes from the emails endpoint.
type Provider struct {
	oauth2     oauth2.Config
	userURL    string
	emailsURL  string
	httpClient *http.Client
}

// New creates a new GitHub provider.
func New(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: github client id and secret are required", auth.ErrProviderNotConfigured)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}

	endpoint := githubendpoint.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}
	if cfg.EmailsURL == "" {
		cfg.EmailsURL = defaultEmailsURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		userURL:    cfg.UserURL,
		emailsURL:  cfg.EmailsURL,
		httpClient: client,
	}, nil
}

func (p *Provider) Name() string {
	return "github"
}

func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state)
}

// Identify exchanges code and reads the user and primary email.
func (p *Provider) Identify(ctx context.Context, code string) (*social.Profile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, exchangeError(err)
	}
	client := p.oauth2.Client(ctx, token)

	user, err := p.fetchUser(ctx, client)
	if err != nil {
		return nil, err
	}

	email, verified, err := p.fetchPrimaryEmail(ctx, client)
	if err != nil {
		// the public profile email is never treated as verified
		email, verified = user.Email, false
	}

	return mapProfile(user, email, verified), nil
}

func (p *Provider) fetchUser(ctx context.Context, client *http.Client) (*githubUser, error) {
	body, status, err := p.get(ctx, client, p.userURL)
	if err != nil {
		return nil, providerError("user_info", 0, "", "", err)
	}
	if status != http.StatusOK {
		return nil, providerError("user_info", status, "", apiErrorMessage(body), nil)
	}

	var user githubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, providerError("user_info", status, "invalid_response", "failed to decode user response", err)
	}
	if user.ID == 0 {
		return nil, providerError("user_info", status, "invalid_response", "missing user id", nil)
	}
	return &user, nil
}

func (p *Provider) fetchPrimaryEmail(ctx context.Context, client *http.Client) (string, bool, error) {
	body, status, err := p.get(ctx, client, p.emailsURL)
	if err != nil {
		return "", false, err
	}
	if status != http.StatusOK {
		return "", false, providerError("emails", status, "", apiErrorMessage(body), nil)
	}

	var emails []githubEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", false, providerError("emails", status, "invalid_response", "failed to decode emails response", err)
	}

	for _, e := range emails {
		if e.Primary {
			return e.Email, e.Verified, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true, nil
		}
	}
	return "", false, providerError("emails", status, "email_not_found", "no valid email found", nil)
}

func (p *Provider) get(ctx context.Context, client *http.Client, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if len(body) > maxResponseBytes {
		return nil, resp.StatusCode, errResponseTooLarge
	}
	return body, resp.StatusCode, nil
}

type githubAPIError struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
}

func apiErrorMessage(body []byte) string {
	var apiErr githubAPIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "github request failed"
	}
	return msg
}

func exchangeError(err error) *social.ProviderError {
	perr := providerError("exchange", 0, "", "", err)
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		perr.Code = retrieveErr.ErrorCode
		perr.Description = retrieveErr.ErrorDescription
		if retrieveErr.Response != nil {
			perr.Status = retrieveErr.Response.StatusCode
		}
	}
	return perr
}

func providerError(operation string, status int, code, description string, err error) *social.ProviderError {
	return &social.ProviderError{
		Provider:    "github",
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}
