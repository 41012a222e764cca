package billingsdk

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/billing/pkg/slogx"
)

// Backend paths.
const (
	PathLogin          = "/users/login"
	PathRegister       = "/users/register"
	PathRefresh        = "/auth/refresh"
	PathLogout         = "/auth/logout"
	PathLogoutFallback = "/users/logout"
	PathCurrentUser    = "/users/current"
	PathProfile        = "/users/profile"
	PathChangePassword = "/users/change-password"
	PathResetPassword  = "/users/reset-password"
	PathHealth         = "/actuator/health"
)

// SDKClient talks to the billing backend for calls that do not need a
// session: login, refresh, logout notification, registration, password
// reset and health. Authenticated calls go through a Session.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a backend client with request logging enabled.
func NewSDKClient(baseURL string, logger *slog.Logger) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &slogx.Transport{Base: http.DefaultTransport, Logger: logger},
		},
	}
}

// login posts the credentials as query parameters with an empty body,
// which is what the backend's login endpoint expects.
func (c *SDKClient) login(ctx context.Context, creds Credentials) (*loginResponse, error) {
	q := url.Values{}
	q.Set("username", creds.Username)
	q.Set("password", creds.Password)

	req, err := c.newRequest(ctx, http.MethodPost, PathLogin, q, nil)
	if err != nil {
		return nil, err
	}

	var out loginResponse
	if err := do(c.HTTPClient, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) refresh(ctx context.Context, refreshToken string) (*loginResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, PathRefresh, nil, refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	var out loginResponse
	if err := do(c.HTTPClient, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// logout notifies path that the session is gone. accessToken may be empty.
func (c *SDKClient) logout(ctx context.Context, path, accessToken string, payload logoutRequest) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return do(c.HTTPClient, req, nil)
}

func (c *SDKClient) register(ctx context.Context, r RegisterRequest) (*loginResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, PathRegister, nil, r)
	if err != nil {
		return nil, err
	}

	var out loginResponse
	if err := do(c.HTTPClient, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestPasswordReset asks the backend to email a reset link.
func (c *SDKClient) RequestPasswordReset(ctx context.Context, email string) error {
	req, err := c.newRequest(ctx, http.MethodPost, PathResetPassword, nil, resetPasswordRequest{Email: email})
	if err != nil {
		return err
	}
	return do(c.HTTPClient, req, nil)
}

// CheckServerAvailability reports whether the health endpoint answers 2xx.
func (c *SDKClient) CheckServerAvailability(ctx context.Context) bool {
	req, err := c.newRequest(ctx, http.MethodGet, PathHealth, nil, nil)
	if err != nil {
		return false
	}
	return do(c.HTTPClient, req, nil) == nil
}
