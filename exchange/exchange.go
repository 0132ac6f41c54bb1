// Package exchange implements authkit.Backend against the registry auth
// service's HTTP API.
//
// The service wraps every JSON response in an envelope:
//
//	{"success": true, "data": {...}}
//	{"success": false, "error": {"message": "..."}}
//
// Each call is a single request/response pair; the client holds no session
// state of its own.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	authkit "github.com/certreg/authkit-go"
)

// Client talks to the registry auth service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// compile-time check
var _ authkit.Backend = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client for auth requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Client) { e.httpClient = c }
}

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(e *Client) { e.logger = l }
}

// New creates an auth service client rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// envelope is the auth service's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
}

func (e *envelope) message() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return "request rejected"
}

// userRecord is the user payload as the server sends it. A permissions list
// the server might include is deliberately not modeled: the client derives
// permissions from its role table.
type userRecord struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	OrganizationID   string    `json:"organizationId"`
	OrganizationName string    `json:"organizationName"`
	InstitutionType  string    `json:"institutionType"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (r *userRecord) toUser() *authkit.User {
	return &authkit.User{
		ID:               r.ID,
		Email:            r.Email,
		Name:             r.Name,
		Role:             authkit.Role(r.Role),
		OrganizationID:   r.OrganizationID,
		OrganizationName: r.OrganizationName,
		InstitutionType:  r.InstitutionType,
		IsActive:         r.IsActive,
		CreatedAt:        r.CreatedAt,
	}
}

type loginData struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
	User         userRecord `json:"user"`
}

type refreshData struct {
	AccessToken string `json:"accessToken"`
}

// Login exchanges an email/password pair for tokens and the user record.
func (c *Client) Login(ctx context.Context, email, password string) (*authkit.LoginResult, error) {
	env, status, err := c.postJSON(ctx, "/auth/login", authkit.Credentials{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("authkit/exchange: login: %w", err)
	}
	if status == http.StatusUnauthorized || (!env.Success && status < http.StatusInternalServerError) {
		return nil, fmt.Errorf("%w: %s", authkit.ErrInvalidCredentials, env.message())
	}
	if status != http.StatusOK || !env.Success {
		return nil, fmt.Errorf("authkit/exchange: login returned %d: %s", status, env.message())
	}

	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("authkit/exchange: decode login response: %w", err)
	}
	if data.Token == "" || data.RefreshToken == "" {
		return nil, fmt.Errorf("authkit/exchange: login response missing tokens")
	}
	if !authkit.Role(data.User.Role).Valid() {
		return nil, fmt.Errorf("authkit/exchange: login response has unknown role %q", data.User.Role)
	}

	return &authkit.LoginResult{
		User: data.User.toUser(),
		Tokens: authkit.TokenPair{
			AccessToken:  data.Token,
			RefreshToken: data.RefreshToken,
		},
	}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	env, status, err := c.postJSON(ctx, "/auth/refresh", map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", fmt.Errorf("authkit/exchange: refresh: %w", err)
	}
	if status != http.StatusOK || !env.Success {
		return "", fmt.Errorf("%w: %s", authkit.ErrRefreshRejected, env.message())
	}

	var data refreshData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("authkit/exchange: decode refresh response: %w", err)
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", authkit.ErrRefreshRejected)
	}
	return data.AccessToken, nil
}

// ValidateSession checks the access token against the profile endpoint.
func (c *Client) ValidateSession(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/profile", nil)
	if err != nil {
		return fmt.Errorf("authkit/exchange: validate: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authkit/exchange: validate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return authkit.ErrUnauthorized
	default:
		return fmt.Errorf("authkit/exchange: profile endpoint returned %d", resp.StatusCode)
	}
}

// Logout revokes the refresh token server-side. Callers treat a failure
// here as advisory only.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	env, status, err := c.postJSON(ctx, "/auth/logout", map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return fmt.Errorf("authkit/exchange: logout: %w", err)
	}
	if status != http.StatusOK || !env.Success {
		return fmt.Errorf("authkit/exchange: logout returned %d: %s", status, env.message())
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*envelope, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("auth service call", "path", path, "status", resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	env := &envelope{}
	if len(raw) > 0 {
		// A non-JSON error page still maps onto the envelope's zero value.
		_ = json.Unmarshal(raw, env)
	}
	return env, resp.StatusCode, nil
}
