package provider

import (
	stderrors "errors"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

var (
	ErrNilProviderEntry = stderrors.New("provider registry: provider is nil")
	ErrEmptyName        = stderrors.New("provider registry: provider name is empty")
	ErrDuplicateName    = stderrors.New("provider registry: provider already exists")
)

// Registry holds the identity providers the sign-in page offers, by name.
type Registry struct {
	providers map[string]IdentityProvider
}

func NewRegistry(providers ...IdentityProvider) (*Registry, error) {
	r := &Registry{
		providers: map[string]IdentityProvider{},
	}

	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) Register(p IdentityProvider) error {
	if p == nil {
		return ErrNilProviderEntry
	}

	name := p.Name()
	if name == "" {
		return ErrEmptyName
	}

	if _, exists := r.providers[name]; exists {
		return ErrDuplicateName
	}

	r.providers[name] = p
	return nil
}

func (r *Registry) Provider(name string) (IdentityProvider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.providers)
}

// Preset fills the endpoint and default scopes for well known provider names.
// Fields already set in config are kept.
func Preset(config OAuth2Config) OAuth2Config {
	switch strings.ToLower(strings.TrimSpace(config.Name)) {
	case "google":
		config.Endpoint = mergeEndpoint(config.Endpoint, endpoints.Google)
		if len(config.Scopes) == 0 {
			config.Scopes = []string{"openid", "email", "profile"}
		}
	case "github":
		config.Endpoint = mergeEndpoint(config.Endpoint, endpoints.GitHub)
		if len(config.Scopes) == 0 {
			config.Scopes = []string{"read:user", "user:email"}
		}
		config.AccessTokenAssertion = true
	default:
		if len(config.Scopes) == 0 {
			config.Scopes = []string{"openid", "email", "profile"}
		}
	}
	return config
}

func mergeEndpoint(current oauth2.Endpoint, preset oauth2.Endpoint) oauth2.Endpoint {
	if current.AuthURL == "" {
		current.AuthURL = preset.AuthURL
	}
	if current.TokenURL == "" {
		current.TokenURL = preset.TokenURL
	}
	if current.DeviceAuthURL == "" {
		current.DeviceAuthURL = preset.DeviceAuthURL
	}
	return current
}
