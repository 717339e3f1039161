package cache

import (
	"context"
	"time"
)

// ProfileSnapshot is the materialized session profile kept per client context
// so a restored placeholder session can be hydrated without a login.
type ProfileSnapshot struct {
	UserID       string    `json:"user_id" yaml:"user_id"`
	Email        string    `json:"email" yaml:"email"`
	DisplayName  string    `json:"display_name" yaml:"display_name"`
	Roles        []string  `json:"roles,omitempty" yaml:"roles,omitempty"`
	AccessToken  string    `json:"access_token" yaml:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at" yaml:"issued_at"`
}

func (s ProfileSnapshot) Clone() ProfileSnapshot {
	if s.Roles != nil {
		s.Roles = append([]string(nil), s.Roles...)
	}
	return s
}

type ProfileCache interface {
	SetProfile(ctx context.Context, key string, snapshot ProfileSnapshot, ttl time.Duration) error
	GetProfile(ctx context.Context, key string) (ProfileSnapshot, bool, error)
	DeleteProfile(ctx context.Context, key string) error
}
