package memory

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/porthorian/dashauth/pkg/cache"
)

var (
	ErrInvalidTTL = errors.New("memory cache: ttl must be greater than zero")
)

type Adapter struct {
	profiles *ttlcache.Cache[string, cache.ProfileSnapshot]
}

var _ cache.ProfileCache = (*Adapter)(nil)

func NewAdapter() *Adapter {
	profiles := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, cache.ProfileSnapshot](),
	)
	go profiles.Start()

	return &Adapter{profiles: profiles}
}

func (a *Adapter) SetProfile(ctx context.Context, key string, snapshot cache.ProfileSnapshot, ttl time.Duration) error {
	if err := validateSetInput(key, ttl); err != nil {
		return err
	}

	a.profiles.Set(key, snapshot.Clone(), ttl)
	return nil
}

func (a *Adapter) GetProfile(ctx context.Context, key string) (cache.ProfileSnapshot, bool, error) {
	item := a.profiles.Get(key)
	if item == nil {
		return cache.ProfileSnapshot{}, false, nil
	}

	return item.Value().Clone(), true, nil
}

func (a *Adapter) DeleteProfile(ctx context.Context, key string) error {
	a.profiles.Delete(key)
	return nil
}

func (a *Adapter) Close() error {
	a.profiles.Stop()
	return nil
}

func validateSetInput(key string, ttl time.Duration) error {
	if key == "" {
		return errors.New("memory cache: key is required")
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
