// Package dashauth wires the session bridge of the campaign dashboard: the
// backend client, the credential and profile stores, and the identity
// providers. One Client serves every client context; each context gets its
// own session.Manager from NewManager.
package dashauth

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/porthorian/dashauth/pkg/backend"
	"github.com/porthorian/dashauth/pkg/cache"
	oerrors "github.com/porthorian/dashauth/pkg/errors"
	"github.com/porthorian/dashauth/pkg/provider"
	"github.com/porthorian/dashauth/pkg/storage"
)

type Config struct {
	Backend backend.Config
	// Flags and Profiles override the stores selected by Runtime.
	Flags     storage.FlagStore
	Profiles  cache.ProfileCache
	Providers []provider.OAuth2Config
	Logger    logr.Logger
	Runtime   RuntimeConfig
}

type Client struct {
	backend       *backend.Client
	flags         storage.FlagStore
	profiles      cache.ProfileCache
	registry      *provider.Registry
	bridges       map[string]*provider.Bridge
	pending       *provider.PendingAttempts
	credential    CredentialConfig
	logger        logr.Logger
	closeResource func() error
}

func New(config Config) (*Client, error) {
	return NewWithContext(context.Background(), config)
}

func NewWithContext(ctx context.Context, config Config) (*Client, error) {
	resolved, err := config.initialize(ctx)
	if err != nil {
		return nil, err
	}

	return &Client{
		backend:       resolved.backend,
		flags:         resolved.config.Flags,
		profiles:      resolved.config.Profiles,
		registry:      resolved.registry,
		bridges:       resolved.bridges,
		pending:       resolved.pending,
		credential:    resolved.config.Runtime.Credential,
		logger:        resolved.config.Logger,
		closeResource: resolved.closeResource,
	}, nil
}

func (c *Client) Backend() *backend.Client {
	return c.backend
}

func (c *Client) FlagStore() storage.FlagStore {
	return c.flags
}

func (c *Client) ProfileCache() cache.ProfileCache {
	return c.profiles
}

func (c *Client) Providers() *provider.Registry {
	return c.registry
}

func (c *Client) Bridge(name string) (*provider.Bridge, bool) {
	bridge, ok := c.bridges[name]
	return bridge, ok
}

func (c *Client) PendingAttempts() *provider.PendingAttempts {
	return c.pending
}

func (c *Client) CredentialTTL() time.Duration {
	return c.credential.TTL
}

func (c *Client) CookieName() string {
	return c.credential.CookieName
}

func (c *Client) CookieSecure() bool {
	return c.credential.CookieSecure
}

func (c *Client) Logger() logr.Logger {
	return c.logger
}

func (c *Client) Close() error {
	if c == nil || c.closeResource == nil {
		return nil
	}

	err := c.closeResource()
	if err != nil {
		return oerrors.Wrap(oerrors.CodeUnknown, "failed to close client resources", err)
	}
	c.closeResource = nil
	return nil
}
