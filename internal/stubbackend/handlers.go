package stubbackend

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type providerRequest struct {
	Token string `json:"token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userPayload struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type credentialPayload struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         userPayload `json:"user"`
}

type providerPayload struct {
	Data providerData `json:"data"`
}

type providerData struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         userPayload `json:"user"`
}

type messagePayload struct {
	Message string `json:"message"`
}

func (s *Server) LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, messagePayload{Message: "malformed request"})
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Secret == "" {
		return c.JSON(http.StatusBadRequest, messagePayload{Message: "identifier and secret are required"})
	}

	s.mu.Lock()
	u, ok := s.users[normalizeEmail(req.Identifier)]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusUnauthorized, messagePayload{Message: "invalid credentials"})
	}

	valid, err := s.hasher.Verify(req.Secret, u.passwordHash)
	if err != nil || !valid {
		return c.JSON(http.StatusUnauthorized, messagePayload{Message: "invalid credentials"})
	}

	s.mu.Lock()
	access, refresh := s.issueLocked(u)
	s.mu.Unlock()

	s.logger.V(1).Info("stub login", "user_id", u.id)
	return c.JSON(http.StatusOK, credentialPayload{AccessToken: access, RefreshToken: refresh, User: toPayload(u)})
}

func (s *Server) ProviderHandler(c echo.Context) error {
	var req providerRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, messagePayload{Message: "token is required"})
	}

	claims, err := s.verifyProviderToken(req.Token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, messagePayload{Message: "provider token rejected"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[claims.Email]
	if !ok {
		return c.JSON(http.StatusForbidden, messagePayload{Message: "no dashboard account for this identity"})
	}
	access, refresh := s.issueLocked(u)

	s.logger.V(1).Info("stub provider login", "user_id", u.id)
	return c.JSON(http.StatusOK, providerPayload{Data: providerData{AccessToken: access, RefreshToken: refresh, User: toPayload(u)}})
}

func (s *Server) LogoutHandler(c echo.Context) error {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return c.JSON(http.StatusUnauthorized, messagePayload{Message: "missing bearer token"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.lookupLocked(s.access, token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, messagePayload{Message: "unknown token"})
	}
	delete(s.access, token)
	for refresh, issued := range s.refresh {
		if issued.userID == u.id {
			delete(s.refresh, refresh)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) RefreshHandler(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, messagePayload{Message: "refreshToken is required"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.lookupLocked(s.refresh, req.RefreshToken)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, messagePayload{Message: "refresh token rejected"})
	}
	delete(s.refresh, req.RefreshToken)
	access, refresh := s.issueLocked(u)
	return c.JSON(http.StatusOK, credentialPayload{AccessToken: access, RefreshToken: refresh, User: toPayload(u)})
}

func toPayload(u *user) userPayload {
	return userPayload{ID: u.id, Email: u.email, Name: u.name, Role: u.role}
}
