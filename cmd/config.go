package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-logr/logr"
	"github.com/porthorian/dashauth"
	"github.com/porthorian/dashauth/pkg/backend"
	"github.com/porthorian/dashauth/pkg/provider"
	"golang.org/x/oauth2"
)

// envConfig is the DASHAUTH_* environment shared by every command.
type envConfig struct {
	BackendURL        string        `env:"DASHAUTH_BACKEND_URL" envDefault:"http://127.0.0.1:8081"`
	BackendTimeout    time.Duration `env:"DASHAUTH_BACKEND_TIMEOUT" envDefault:"10s"`
	CredentialBackend string        `env:"DASHAUTH_CREDENTIAL_BACKEND"`
	CredentialTTL     time.Duration `env:"DASHAUTH_CREDENTIAL_TTL" envDefault:"24h"`
	ProfileBackend    string        `env:"DASHAUTH_PROFILE_BACKEND"`
	StateFile         string        `env:"DASHAUTH_STATE_FILE"`
	RedisAddr         string        `env:"DASHAUTH_REDIS_ADDR"`
	RedisUsername     string        `env:"DASHAUTH_REDIS_USERNAME"`
	RedisPassword     string        `env:"DASHAUTH_REDIS_PASSWORD"`
	RedisDB           int           `env:"DASHAUTH_REDIS_DB"`
	RedisNamespace    string        `env:"DASHAUTH_REDIS_NAMESPACE" envDefault:"dashauth"`
	PostgresDSN       string        `env:"DASHAUTH_POSTGRES_DSN"`
	PostgresDriver    string        `env:"DASHAUTH_POSTGRES_DRIVER" envDefault:"pgx"`
	ListenAddr        string        `env:"DASHAUTH_LISTEN_ADDR" envDefault:":8080"`
	PublicURL         string        `env:"DASHAUTH_PUBLIC_URL"`
	CookieName        string        `env:"DASHAUTH_COOKIE_NAME"`
	CookieSecure      bool          `env:"DASHAUTH_COOKIE_SECURE"`
	PendingTTL        time.Duration `env:"DASHAUTH_PROVIDER_PENDING_TTL" envDefault:"10m"`
	Provider          providerEnv   `envPrefix:"DASHAUTH_PROVIDER_"`
}

type providerEnv struct {
	Name                 string   `env:"NAME"`
	ClientID             string   `env:"CLIENT_ID"`
	ClientSecret         string   `env:"CLIENT_SECRET"`
	AuthURL              string   `env:"AUTH_URL"`
	TokenURL             string   `env:"TOKEN_URL"`
	RedirectURL          string   `env:"REDIRECT_URL"`
	Scopes               []string `env:"SCOPES" envSeparator:","`
	AccessTokenAssertion bool     `env:"ACCESS_TOKEN_ASSERTION"`
}

func loadEnvConfig() (envConfig, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return envConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// clientConfig turns the environment into a dashauth.Config. fallback is the
// credential backend used when DASHAUTH_CREDENTIAL_BACKEND is unset.
func (c envConfig) clientConfig(fallback dashauth.CredentialBackend, logger logr.Logger) dashauth.Config {
	credentialBackend := dashauth.CredentialBackend(strings.ToLower(strings.TrimSpace(c.CredentialBackend)))
	if credentialBackend == "" {
		credentialBackend = fallback
	}

	stateFile := strings.TrimSpace(c.StateFile)
	if stateFile == "" {
		stateFile = defaultStateFile()
	}

	config := dashauth.Config{
		Backend: backend.Config{
			BaseURL:   c.BackendURL,
			Timeout:   c.BackendTimeout,
			UserAgent: "dashauth/" + BuildVersion,
		},
		Logger: logger,
		Runtime: dashauth.RuntimeConfig{
			Credential: dashauth.CredentialConfig{
				Backend:      credentialBackend,
				TTL:          c.CredentialTTL,
				CookieName:   c.CookieName,
				CookieSecure: c.CookieSecure,
			},
			Profile: dashauth.ProfileConfig{
				Backend: dashauth.ProfileBackend(strings.ToLower(strings.TrimSpace(c.ProfileBackend))),
			},
			File: dashauth.FileConfig{Path: stateFile},
			Redis: dashauth.RedisConfig{
				Address:   c.RedisAddr,
				Username:  c.RedisUsername,
				Password:  c.RedisPassword,
				Database:  c.RedisDB,
				Namespace: c.RedisNamespace,
			},
			Postgres: dashauth.PostgresConfig{
				DriverName: c.PostgresDriver,
				DSN:        c.PostgresDSN,
			},
			Provider: dashauth.ProviderRuntimeConfig{PendingTTL: c.PendingTTL},
		},
	}

	if c.Provider.Name != "" {
		config.Providers = []provider.OAuth2Config{{
			Name:                 c.Provider.Name,
			ClientID:             c.Provider.ClientID,
			ClientSecret:         c.Provider.ClientSecret,
			RedirectURL:          c.Provider.RedirectURL,
			Scopes:               trimList(c.Provider.Scopes),
			AccessTokenAssertion: c.Provider.AccessTokenAssertion,
			Endpoint: oauth2.Endpoint{
				AuthURL:  c.Provider.AuthURL,
				TokenURL: c.Provider.TokenURL,
			},
		}}
	}
	return config
}

// defaultStateFile is empty when no user config directory exists; the file
// backend then reports the missing path.
func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dashauth", "state.yaml")
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
