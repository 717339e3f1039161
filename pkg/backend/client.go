// Package backend is the HTTP client for the authentication endpoints the
// dashboard consumes: credential exchange, provider token exchange, remote
// logout and refresh.
package backend

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	oerrors "github.com/porthorian/dashauth/pkg/errors"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultLoginPath    = "/auth/login"
	DefaultProviderPath = "/auth/provider"
	DefaultLogoutPath   = "/auth/logout"
	DefaultRefreshPath  = "/auth/refresh"
	DefaultUserAgent    = "dashauth"

	maxResponseBytes = 1 << 20
)

var ErrMissingBaseURL = stderrors.New("backend client: base url is required")

type Config struct {
	BaseURL      string
	LoginPath    string
	ProviderPath string
	LogoutPath   string
	RefreshPath  string
	Timeout      time.Duration
	UserAgent    string
	HTTPClient   *http.Client
	Logger       logr.Logger
}

type Client struct {
	baseURL    *url.URL
	paths      paths
	timeout    time.Duration
	userAgent  string
	httpClient *http.Client
	logger     logr.Logger
}

type paths struct {
	login    string
	provider string
	logout   string
	refresh  string
}

// New builds a client. When no HTTPClient is given one is created with a
// cookie jar so cookies set by the backend persist for the client's lifetime.
func New(config Config) (*Client, error) {
	raw := strings.TrimSpace(config.BaseURL)
	if raw == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("backend client: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend client: base url %q must be absolute", raw)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("backend client: cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar}
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return &Client{
		baseURL: base,
		paths: paths{
			login:    pathOrDefault(config.LoginPath, DefaultLoginPath),
			provider: pathOrDefault(config.ProviderPath, DefaultProviderPath),
			logout:   pathOrDefault(config.LogoutPath, DefaultLogoutPath),
			refresh:  pathOrDefault(config.RefreshPath, DefaultRefreshPath),
		},
		timeout:    timeout,
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (c *Client) BaseURL() *url.URL {
	copied := *c.baseURL
	return &copied
}

// Jar returns the cookie jar of the underlying HTTP client, or nil.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// ExchangeCredentials trades an identifier/secret pair for a grant. 400, 401
// and 403 answers are reported as invalid credentials.
func (c *Client) ExchangeCredentials(ctx context.Context, identifier string, secret string) (Grant, error) {
	body := credentialRequest{Identifier: identifier, Secret: secret}

	var payload credentialResponse
	if err := c.postJSON(ctx, c.paths.login, "", body, &payload); err != nil {
		return Grant{}, remapRejection(err, credentialFailureCode)
	}
	return payload.grant()
}

// ExchangeProviderToken trades a provider-signed identity token for a grant.
// Any non-2xx answer is reported as backend rejected.
func (c *Client) ExchangeProviderToken(ctx context.Context, token string) (Grant, error) {
	body := providerRequest{Token: token}

	var payload providerResponse
	if err := c.postJSON(ctx, c.paths.provider, "", body, &payload); err != nil {
		return Grant{}, err
	}
	return payload.Data.grant()
}

// Refresh trades a refresh token for a new grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Grant{}, oerrors.New(oerrors.CodeUnauthenticated, "no refresh token available")
	}

	var payload credentialResponse
	if err := c.postJSON(ctx, c.paths.refresh, "", refreshRequest{RefreshToken: refreshToken}, &payload); err != nil {
		return Grant{}, remapRejection(err, credentialFailureCode)
	}
	return payload.grant()
}

// Logout asks the backend to invalidate the access token. The response body is
// ignored; only transport failures and non-2xx statuses are reported.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.postJSON(ctx, c.paths.logout, accessToken, nil, nil)
}

// remapRejection recodes a non-2xx rejection by its status. Transport
// failures keep their code.
func remapRejection(err error, codeFor func(status int) oerrors.Code) error {
	var typed *oerrors.Error
	if !stderrors.As(err, &typed) || typed.Code != oerrors.CodeBackendRejected || typed.Status == 0 {
		return err
	}
	return oerrors.WithStatus(codeFor(typed.Status), typed.Message, typed.Status)
}

func credentialFailureCode(status int) oerrors.Code {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return oerrors.CodeInvalidCredentials
	default:
		return oerrors.CodeBackendRejected
	}
}

func pathOrDefault(path string, fallback string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	return fallback
}
