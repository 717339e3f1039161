package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidKey    = errors.New("storage: flag key is required")
	ErrInvalidExpiry = errors.New("storage: flag expiry must be in the future")
)

// FlagRecord is the durable "a session exists" signal for one client context.
// It carries no session contents.
type FlagRecord struct {
	Key       string
	SetAt     time.Time
	ExpiresAt time.Time
}

// Active reports whether the record still signals a session at now.
func (r FlagRecord) Active(now time.Time) bool {
	return r.Key != "" && now.Before(r.ExpiresAt)
}

func (r FlagRecord) Validate(now time.Time) error {
	if strings.TrimSpace(r.Key) == "" {
		return ErrInvalidKey
	}
	if !r.ExpiresAt.After(now) {
		return ErrInvalidExpiry
	}
	return nil
}

// FlagStore persists flag records. GetFlag reports found=false for missing
// and expired records alike. DeleteFlag on a missing key is not an error.
type FlagStore interface {
	PutFlag(ctx context.Context, record FlagRecord) error
	GetFlag(ctx context.Context, key string) (FlagRecord, bool, error)
	DeleteFlag(ctx context.Context, key string) error
}
