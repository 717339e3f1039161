// Package session owns the signed-in session of one client context.
package session

import (
	"sort"
	"strings"
	"time"

	"github.com/porthorian/dashauth/pkg/authz"
	"github.com/porthorian/dashauth/pkg/backend"
	"github.com/porthorian/dashauth/pkg/cache"
)

// Session is the signed-in user as the dashboard sees it. Roles is sorted and
// holds no duplicates. A Placeholder session was restored from the credential
// flag alone and carries no profile or tokens until it is hydrated.
type Session struct {
	UserID       string
	Email        string
	DisplayName  string
	Roles        []string
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	Placeholder  bool
}

func FromGrant(grant backend.Grant, issuedAt time.Time) Session {
	return Session{
		UserID:       grant.User.ID.String(),
		Email:        grant.User.Email,
		DisplayName:  grant.User.Name,
		Roles:        normalizeRoles(grant.User.RoleNames()),
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		IssuedAt:     issuedAt.UTC(),
	}
}

func FromSnapshot(snapshot cache.ProfileSnapshot) Session {
	return Session{
		UserID:       snapshot.UserID,
		Email:        snapshot.Email,
		DisplayName:  snapshot.DisplayName,
		Roles:        normalizeRoles(snapshot.Roles),
		AccessToken:  snapshot.AccessToken,
		RefreshToken: snapshot.RefreshToken,
		IssuedAt:     snapshot.IssuedAt.UTC(),
	}
}

func placeholder(now time.Time) Session {
	return Session{
		IssuedAt:    now.UTC(),
		Placeholder: true,
	}
}

func (s Session) Snapshot() cache.ProfileSnapshot {
	return cache.ProfileSnapshot{
		UserID:       s.UserID,
		Email:        s.Email,
		DisplayName:  s.DisplayName,
		Roles:        append([]string(nil), s.Roles...),
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		IssuedAt:     s.IssuedAt,
	}
}

func (s Session) Clone() Session {
	if s.Roles != nil {
		s.Roles = append([]string(nil), s.Roles...)
	}
	return s
}

func (s Session) HasRole(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	i := sort.SearchStrings(s.Roles, name)
	return i < len(s.Roles) && s.Roles[i] == name
}

func (s Session) RoleMask() authz.RoleMask {
	return authz.RoleMaskFor(s.Roles...)
}

func (s Session) Permissions() authz.PermissionMask {
	return authz.EffectivePermissions(s.RoleMask(), 0)
}

func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
