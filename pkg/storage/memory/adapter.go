package memory

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/porthorian/dashauth/pkg/storage"
)

type Adapter struct {
	flags *ttlcache.Cache[string, storage.FlagRecord]
	now   func() time.Time
}

var _ storage.FlagStore = (*Adapter)(nil)

// NewAdapter starts the expiry loop; call Close to stop it.
func NewAdapter() *Adapter {
	flags := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, storage.FlagRecord](),
	)
	go flags.Start()

	return &Adapter{
		flags: flags,
		now:   time.Now,
	}
}

func (a *Adapter) PutFlag(ctx context.Context, record storage.FlagRecord) error {
	now := a.now().UTC()
	if err := record.Validate(now); err != nil {
		return err
	}

	a.flags.Set(record.Key, record, record.ExpiresAt.Sub(now))
	return nil
}

func (a *Adapter) GetFlag(ctx context.Context, key string) (storage.FlagRecord, bool, error) {
	item := a.flags.Get(key)
	if item == nil {
		return storage.FlagRecord{}, false, nil
	}

	record := item.Value()
	if !record.Active(a.now().UTC()) {
		a.flags.Delete(key)
		return storage.FlagRecord{}, false, nil
	}
	return record, true, nil
}

func (a *Adapter) DeleteFlag(ctx context.Context, key string) error {
	a.flags.Delete(key)
	return nil
}

func (a *Adapter) Len() int {
	return a.flags.Len()
}

func (a *Adapter) Close() error {
	a.flags.Stop()
	return nil
}
