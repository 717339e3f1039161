package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/porthorian/dashauth/pkg/cache"
	"github.com/porthorian/dashauth/pkg/storage"
	goredis "github.com/redis/go-redis/v9"
)

var (
	ErrInvalidTTL = errors.New("redis cache adapter: ttl must be greater than zero")
	ErrMissingKey = errors.New("redis cache adapter: key is required")
)

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

// Adapter keeps profile snapshots and credential flags in one redis database,
// separated by key prefix.
type Adapter struct {
	client    goredis.UniversalClient
	namespace string
	ownClient bool
	now       func() time.Time
}

var _ cache.ProfileCache = (*Adapter)(nil)
var _ storage.FlagStore = (*Adapter)(nil)

type flagEntry struct {
	SetAt     time.Time `json:"set_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewAdapter(config Config) *Adapter {
	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})

	adapter := NewAdapterWithClient(client, config.Namespace)
	adapter.ownClient = true
	return adapter
}

func NewAdapterWithClient(client goredis.UniversalClient, namespace string) *Adapter {
	if namespace == "" {
		namespace = "dashauth"
	}
	return &Adapter{
		client:    client,
		namespace: namespace,
		now:       time.Now,
	}
}

func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *Adapter) Close() error {
	if a == nil || !a.ownClient {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) profileKey(key string) string {
	return fmt.Sprintf("%s:profile:%s", a.namespace, key)
}

func (a *Adapter) flagKey(key string) string {
	return fmt.Sprintf("%s:flag:%s", a.namespace, key)
}

func (a *Adapter) SetProfile(ctx context.Context, key string, snapshot cache.ProfileSnapshot, ttl time.Duration) error {
	if key == "" {
		return ErrMissingKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis cache adapter: marshal profile: %w", err)
	}

	if err := a.client.Set(ctx, a.profileKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache adapter: set profile: %w", err)
	}
	return nil
}

func (a *Adapter) GetProfile(ctx context.Context, key string) (cache.ProfileSnapshot, bool, error) {
	payload, err := a.client.Get(ctx, a.profileKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return cache.ProfileSnapshot{}, false, nil
	}
	if err != nil {
		return cache.ProfileSnapshot{}, false, fmt.Errorf("redis cache adapter: get profile: %w", err)
	}

	var snapshot cache.ProfileSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return cache.ProfileSnapshot{}, false, fmt.Errorf("redis cache adapter: decode profile: %w", err)
	}
	return snapshot, true, nil
}

func (a *Adapter) DeleteProfile(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, a.profileKey(key)).Err(); err != nil {
		return fmt.Errorf("redis cache adapter: delete profile: %w", err)
	}
	return nil
}

func (a *Adapter) PutFlag(ctx context.Context, record storage.FlagRecord) error {
	now := a.now().UTC()
	if err := record.Validate(now); err != nil {
		return err
	}

	payload, err := json.Marshal(flagEntry{SetAt: record.SetAt.UTC(), ExpiresAt: record.ExpiresAt.UTC()})
	if err != nil {
		return fmt.Errorf("redis cache adapter: marshal flag: %w", err)
	}

	if err := a.client.Set(ctx, a.flagKey(record.Key), payload, record.ExpiresAt.Sub(now)).Err(); err != nil {
		return fmt.Errorf("redis cache adapter: set flag: %w", err)
	}
	return nil
}

func (a *Adapter) GetFlag(ctx context.Context, key string) (storage.FlagRecord, bool, error) {
	payload, err := a.client.Get(ctx, a.flagKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storage.FlagRecord{}, false, nil
	}
	if err != nil {
		return storage.FlagRecord{}, false, fmt.Errorf("redis cache adapter: get flag: %w", err)
	}

	var entry flagEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return storage.FlagRecord{}, false, fmt.Errorf("redis cache adapter: decode flag: %w", err)
	}

	record := storage.FlagRecord{Key: key, SetAt: entry.SetAt, ExpiresAt: entry.ExpiresAt}
	if !record.Active(a.now().UTC()) {
		return storage.FlagRecord{}, false, nil
	}
	return record, true, nil
}

func (a *Adapter) DeleteFlag(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, a.flagKey(key)).Err(); err != nil {
		return fmt.Errorf("redis cache adapter: delete flag: %w", err)
	}
	return nil
}
