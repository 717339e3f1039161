package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	oerrors "github.com/porthorian/dashauth/pkg/errors"
)

// Grant is a successful exchange: tokens plus the profile of the user they
// were issued to.
type Grant struct {
	AccessToken  string
	RefreshToken string
	User         User
}

type User struct {
	ID    UserID   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Role  string   `json:"role"`
	Roles []string `json:"roles,omitempty"`
}

// RoleNames returns Role and Roles together, without empty entries.
func (u User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles)+1)
	if role := strings.TrimSpace(u.Role); role != "" {
		names = append(names, role)
	}
	for _, role := range u.Roles {
		if role = strings.TrimSpace(role); role != "" {
			names = append(names, role)
		}
	}
	return names
}

// UserID accepts both JSON strings and JSON numbers.
type UserID string

func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*id = UserID(value)
		return nil
	}

	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("user id must be a string or a number: %w", err)
	}
	*id = UserID(number.String())
	return nil
}

func (id UserID) String() string {
	return string(id)
}

type credentialRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type providerRequest struct {
	Token string `json:"token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type credentialResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

func (r credentialResponse) grant() (Grant, error) {
	return newGrant(r.AccessToken, r.RefreshToken, r.User)
}

type providerResponse struct {
	Data providerData `json:"data"`
}

type providerData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

func (d providerData) grant() (Grant, error) {
	return newGrant(d.AccessToken, d.RefreshToken, d.User)
}

func newGrant(accessToken string, refreshToken string, user User) (Grant, error) {
	if strings.TrimSpace(accessToken) == "" {
		return Grant{}, oerrors.New(oerrors.CodeBackendRejected, "backend response has no access token")
	}
	if strings.TrimSpace(user.ID.String()) == "" {
		return Grant{}, oerrors.New(oerrors.CodeBackendRejected, "backend response has no user id")
	}
	return Grant{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, nil
}
