package dashauth

import (
	"fmt"

	"github.com/porthorian/dashauth/pkg/credential"
	"github.com/porthorian/dashauth/pkg/session"
)

type managerOptions struct {
	providerName string
}

type ManagerOption func(*managerOptions)

// WithProvider attaches the bridge of the named identity provider so the
// manager can run provider sign-in.
func WithProvider(name string) ManagerOption {
	return func(o *managerOptions) {
		o.providerName = name
	}
}

// NewManager builds the session manager of one client context. clientKey
// names the context in the flag and profile stores; mirror is its cookie
// copy of the flag.
func (c *Client) NewManager(clientKey string, mirror credential.Mirror, opts ...ManagerOption) (*session.Manager, error) {
	var options managerOptions
	for _, opt := range opts {
		opt(&options)
	}

	store, err := credential.NewStore(clientKey, c.flags, mirror,
		credential.WithTTL(c.credential.TTL),
		credential.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}

	config := session.Config{
		Exchanger: c.backend,
		Store:     store,
		Profiles:  c.profiles,
		Logger:    c.logger,
	}
	if options.providerName != "" {
		bridge, ok := c.bridges[options.providerName]
		if !ok {
			return nil, fmt.Errorf("dashauth: unknown identity provider %q", options.providerName)
		}
		config.Bridge = bridge
	}

	return session.NewManager(config)
}
