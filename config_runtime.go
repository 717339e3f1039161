package dashauth

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/porthorian/dashauth/pkg/backend"
	memorycache "github.com/porthorian/dashauth/pkg/cache/memory"
	rediscache "github.com/porthorian/dashauth/pkg/cache/redis"
	"github.com/porthorian/dashauth/pkg/credential"
	"github.com/porthorian/dashauth/pkg/provider"
	filestore "github.com/porthorian/dashauth/pkg/storage/file"
	memorystore "github.com/porthorian/dashauth/pkg/storage/memory"
	"github.com/porthorian/dashauth/pkg/storage/postgres"
)

type CredentialBackend string

const (
	CredentialBackendMemory   CredentialBackend = "memory"
	CredentialBackendFile     CredentialBackend = "file"
	CredentialBackendRedis    CredentialBackend = "redis"
	CredentialBackendPostgres CredentialBackend = "postgres"
)

type ProfileBackend string

const (
	ProfileBackendNone   ProfileBackend = "none"
	ProfileBackendMemory ProfileBackend = "memory"
	ProfileBackendFile   ProfileBackend = "file"
	ProfileBackendRedis  ProfileBackend = "redis"
)

type RuntimeConfig struct {
	Credential CredentialConfig
	Profile    ProfileConfig
	File       FileConfig
	Redis      RedisConfig
	Postgres   PostgresConfig
	Provider   ProviderRuntimeConfig
}

type CredentialConfig struct {
	Backend      CredentialBackend
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
}

// ProfileConfig selects the profile snapshot store. An empty backend follows
// the credential backend, falling back to memory for postgres.
type ProfileConfig struct {
	Backend ProfileBackend
}

type FileConfig struct {
	Path string
}

type RedisConfig struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

type ProviderRuntimeConfig struct {
	PendingTTL time.Duration
}

type resolvedConfig struct {
	config        Config
	backend       *backend.Client
	registry      *provider.Registry
	bridges       map[string]*provider.Bridge
	pending       *provider.PendingAttempts
	closeResource func() error
}

// shared holds adapters that serve both the flag and the profile store so a
// backend is opened once.
type shared struct {
	file  *filestore.Adapter
	redis *rediscache.Adapter
}

func (c Config) initialize(ctx context.Context) (resolvedConfig, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)
	applyCredentialDefaults(&config.Runtime.Credential)

	if config.Backend.Logger.GetSink() == nil {
		config.Backend.Logger = config.Logger
	}
	client, err := backend.New(config.Backend)
	if err != nil {
		return resolvedConfig{}, fmt.Errorf("dashauth config: %w", err)
	}

	var adapters shared

	closeFlags, config, err := initializeFlags(ctx, config, &adapters)
	if err != nil {
		return resolvedConfig{}, err
	}

	closeProfiles, config, err := initializeProfiles(config, &adapters)
	if err != nil {
		_ = closeFlags()
		return resolvedConfig{}, err
	}

	registry, bridges, pending, err := initializeProviders(config, client)
	if err != nil {
		_ = joinClosers(closeFlags, closeProfiles)()
		return resolvedConfig{}, err
	}

	return resolvedConfig{
		config:        config,
		backend:       client,
		registry:      registry,
		bridges:       bridges,
		pending:       pending,
		closeResource: joinClosers(closeFlags, closeProfiles, pending.Close),
	}, nil
}

func applyCredentialDefaults(credentialConfig *CredentialConfig) {
	if credentialConfig.Backend == "" {
		credentialConfig.Backend = CredentialBackendMemory
	}
	if credentialConfig.TTL <= 0 {
		credentialConfig.TTL = credential.DefaultTTL
	}
	if credentialConfig.CookieName == "" {
		credentialConfig.CookieName = credential.DefaultCookieName
	}
}

func initializeFlags(ctx context.Context, config Config, adapters *shared) (func() error, Config, error) {
	if config.Flags != nil {
		return noopCloser, config, nil
	}

	switch config.Runtime.Credential.Backend {
	case CredentialBackendMemory:
		adapter := memorystore.NewAdapter()
		config.Flags = adapter
		config.Logger.V(1).Info("initialized memory credential backend")
		return adapter.Close, config, nil
	case CredentialBackendFile:
		adapter, err := adapters.fileAdapter(config)
		if err != nil {
			return nil, Config{}, err
		}
		config.Flags = adapter
		config.Logger.V(1).Info("initialized file credential backend", "path", adapter.Path())
		return noopCloser, config, nil
	case CredentialBackendRedis:
		adapter, closeRedis, err := adapters.redisAdapter(&config)
		if err != nil {
			return nil, Config{}, err
		}
		config.Flags = adapter
		return closeRedis, config, nil
	case CredentialBackendPostgres:
		return initializePostgres(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("dashauth config: unsupported runtime.credential.backend %q", config.Runtime.Credential.Backend)
	}
}

func initializeProfiles(config Config, adapters *shared) (func() error, Config, error) {
	if config.Profiles != nil {
		return noopCloser, config, nil
	}

	backendName := config.Runtime.Profile.Backend
	if backendName == "" {
		switch config.Runtime.Credential.Backend {
		case CredentialBackendFile:
			backendName = ProfileBackendFile
		case CredentialBackendRedis:
			backendName = ProfileBackendRedis
		default:
			backendName = ProfileBackendMemory
		}
	}

	switch backendName {
	case ProfileBackendNone:
		return noopCloser, config, nil
	case ProfileBackendMemory:
		adapter := memorycache.NewAdapter()
		config.Profiles = adapter
		config.Logger.V(1).Info("initialized memory profile cache")
		return adapter.Close, config, nil
	case ProfileBackendFile:
		adapter, err := adapters.fileAdapter(config)
		if err != nil {
			return nil, Config{}, err
		}
		config.Profiles = adapter
		return noopCloser, config, nil
	case ProfileBackendRedis:
		adapter, closeRedis, err := adapters.redisAdapter(&config)
		if err != nil {
			return nil, Config{}, err
		}
		config.Profiles = adapter
		return closeRedis, config, nil
	default:
		return nil, Config{}, fmt.Errorf("dashauth config: unsupported runtime.profile.backend %q", backendName)
	}
}

func (s *shared) fileAdapter(config Config) (*filestore.Adapter, error) {
	if s.file != nil {
		return s.file, nil
	}

	adapter, err := filestore.NewAdapter(config.Runtime.File.Path)
	if err != nil {
		return nil, fmt.Errorf("dashauth config: runtime.file.path: %w", err)
	}
	s.file = adapter
	return adapter, nil
}

// redisAdapter returns the shared redis adapter. Only the call that creates it
// gets a closer that closes it.
func (s *shared) redisAdapter(config *Config) (*rediscache.Adapter, func() error, error) {
	if s.redis != nil {
		return s.redis, noopCloser, nil
	}

	redisConfig := config.Runtime.Redis
	if redisConfig.Address == "" {
		return nil, nil, fmt.Errorf("dashauth config: runtime.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}

	adapter := rediscache.NewAdapter(rediscache.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
	})
	s.redis = adapter

	config.Runtime.Redis = redisConfig
	config.Logger.V(1).Info("initialized redis backend", "address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter, adapter.Close, nil
}

func initializePostgres(ctx context.Context, config Config) (func() error, Config, error) {
	pgConfig := config.Runtime.Postgres
	if pgConfig.DSN == "" {
		return nil, Config{}, fmt.Errorf("dashauth config: runtime.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, Config{}, fmt.Errorf("dashauth config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("dashauth config: failed to ping postgres database: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("dashauth config: failed to initialize postgres adapter: %w", err)
	}
	config.Flags = adapter

	config.Runtime.Postgres = pgConfig
	config.Logger.V(1).Info("initialized postgres credential backend", "driver", pgConfig.DriverName, "max_open_conns", pgConfig.MaxOpenConns, "max_idle_conns", pgConfig.MaxIdleConns)
	return joinClosers(db.Close, adapter.Close), config, nil
}

func initializeProviders(config Config, client *backend.Client) (*provider.Registry, map[string]*provider.Bridge, *provider.PendingAttempts, error) {
	registry, err := provider.NewRegistry()
	if err != nil {
		return nil, nil, nil, err
	}
	bridges := map[string]*provider.Bridge{}

	for _, providerConfig := range config.Providers {
		idp, err := provider.NewOAuth2Provider(provider.Preset(providerConfig))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("dashauth config: provider %q: %w", providerConfig.Name, err)
		}
		if err := registry.Register(idp); err != nil {
			return nil, nil, nil, fmt.Errorf("dashauth config: provider %q: %w", providerConfig.Name, err)
		}

		bridge, err := provider.NewBridge(idp, client, provider.WithLogger(config.Logger))
		if err != nil {
			return nil, nil, nil, err
		}
		bridges[idp.Name()] = bridge
		config.Logger.V(1).Info("registered identity provider", "provider", idp.Name())
	}

	return registry, bridges, provider.NewPendingAttempts(config.Runtime.Provider.PendingTTL), nil
}

func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}
