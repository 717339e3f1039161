package provider

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const DefaultPendingTTL = 10 * time.Minute

type pendingEntry struct {
	owner   string
	attempt *Attempt
}

// PendingAttempts parks attempts between the authorization redirect and the
// provider callback, keyed by the state parameter. Entries expire after the
// configured TTL and are removed when taken.
type PendingAttempts struct {
	entries *ttlcache.Cache[string, pendingEntry]
}

// NewPendingAttempts starts the expiry loop; call Close to stop it.
func NewPendingAttempts(ttl time.Duration) *PendingAttempts {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}

	entries := ttlcache.New(
		ttlcache.WithTTL[string, pendingEntry](ttl),
		ttlcache.WithDisableTouchOnHit[string, pendingEntry](),
	)
	go entries.Start()

	return &PendingAttempts{entries: entries}
}

// Put parks attempt for the client context named by owner.
func (p *PendingAttempts) Put(owner string, attempt *Attempt) {
	if attempt == nil {
		return
	}
	p.entries.Set(attempt.StateParam, pendingEntry{owner: owner, attempt: attempt}, ttlcache.DefaultTTL)
}

// Take removes and returns the attempt for state. An attempt parked by a
// different owner is dropped and not returned.
func (p *PendingAttempts) Take(state string, owner string) (*Attempt, bool) {
	if state == "" {
		return nil, false
	}

	item, found := p.entries.GetAndDelete(state)
	if !found || item == nil {
		return nil, false
	}

	entry := item.Value()
	if entry.owner != owner {
		return nil, false
	}
	return entry.attempt, true
}

func (p *PendingAttempts) Len() int {
	return p.entries.Len()
}

func (p *PendingAttempts) Close() error {
	p.entries.Stop()
	return nil
}
