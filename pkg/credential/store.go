// Package credential holds the durable "a session exists" signal for one
// client context: a flag record in a storage.FlagStore plus a cookie mirror
// that request-time guards can read without a round trip.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/porthorian/dashauth/pkg/storage"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultCookieName = "isAuthenticated"
	cookieValue       = "true"
)

var (
	ErrMissingKey    = errors.New("credential store: client key is required")
	ErrMissingFlags  = errors.New("credential store: flag store is required")
	ErrMissingMirror = errors.New("credential store: mirror is required")
)

// Mirror is the request-visible copy of the flag. Write and Erase are called
// only by Store.
type Mirror interface {
	Write(expiresAt time.Time) error
	Erase() error
	Present() bool
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(s *Store) {
		if logger.GetSink() != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type Store struct {
	key    string
	flags  storage.FlagStore
	mirror Mirror
	ttl    time.Duration
	now    func() time.Time
	logger logr.Logger
}

func NewStore(key string, flags storage.FlagStore, mirror Mirror, opts ...Option) (*Store, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingKey
	}
	if flags == nil {
		return nil, ErrMissingFlags
	}
	if mirror == nil {
		return nil, ErrMissingMirror
	}

	s := &Store{
		key:    key,
		flags:  flags,
		mirror: mirror,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Key() string {
	return s.key
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Set writes the durable flag and its mirror. When the mirror cannot be
// written the durable flag is removed again so neither stays set alone.
func (s *Store) Set(ctx context.Context) error {
	now := s.now().UTC()
	record := storage.FlagRecord{
		Key:       s.key,
		SetAt:     now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.flags.PutFlag(ctx, record); err != nil {
		return fmt.Errorf("credential store: put flag: %w", err)
	}

	if err := s.mirror.Write(record.ExpiresAt); err != nil {
		if rollbackErr := s.flags.DeleteFlag(ctx, s.key); rollbackErr != nil {
			s.logger.Error(rollbackErr, "failed to roll back credential flag after mirror write failure", "key", s.key)
		}
		return fmt.Errorf("credential store: write mirror: %w", err)
	}

	s.logger.V(1).Info("credential flag set", "key", s.key, "expires_at", record.ExpiresAt)
	return nil
}

// Clear removes the flag and erases the mirror. Both are attempted; clearing
// an absent flag is not an error.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error

	if err := s.flags.DeleteFlag(ctx, s.key); err != nil {
		errs = append(errs, fmt.Errorf("credential store: delete flag: %w", err))
	}
	if err := s.mirror.Erase(); err != nil {
		errs = append(errs, fmt.Errorf("credential store: erase mirror: %w", err))
	}

	s.logger.V(1).Info("credential flag cleared", "key", s.key)
	return errors.Join(errs...)
}

// IsSet reports true when either the mirror or the durable flag signals a
// session. The mirror can lag a clear done in another client context until
// it expires; callers accept that window.
func (s *Store) IsSet(ctx context.Context) (bool, error) {
	if s.mirror.Present() {
		return true, nil
	}

	_, ok, err := s.flags.GetFlag(ctx, s.key)
	if err != nil {
		return false, fmt.Errorf("credential store: get flag: %w", err)
	}
	return ok, nil
}
