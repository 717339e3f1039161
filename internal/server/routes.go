package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/porthorian/dashauth"
	"github.com/porthorian/dashauth/pkg/credential"
	oerrors "github.com/porthorian/dashauth/pkg/errors"
	"github.com/porthorian/dashauth/pkg/guard"
	"github.com/porthorian/dashauth/pkg/session"
	echotransport "github.com/porthorian/dashauth/pkg/transport/echo"
)

const (
	managerContextKey = "dashauth.manager"
	clientContextKey  = "dashauth.client"
	dashboardPath     = "/dashboard"
)

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET(guard.DefaultLoginPath, s.LoginPageHandler)
	e.POST(guard.DefaultLoginPath, s.LoginHandler)
	e.POST("/logout", s.LogoutHandler)
	e.GET("/auth/provider/:name", s.ProviderStartHandler)
	e.GET("/auth/provider/:name/callback", s.ProviderCallbackHandler)

	restored := echotransport.RequireStatus(s.resolveStatus, s.guard)
	e.GET("/api/session", s.SessionHandler, echotransport.RequireSession(s.guard), restored)
	e.GET(dashboardPath, s.DashboardHandler, echotransport.RequireSession(s.guard), restored)
}

// clientKey returns the id of the browser's client context, issuing one on
// first contact.
func (s *Server) clientKey(c echo.Context) string {
	if key, ok := c.Get(clientContextKey).(string); ok {
		return key
	}
	if cookie, err := c.Cookie(s.clientCookieName); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			c.Set(clientContextKey, id.String())
			return id.String()
		}
	}

	key := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     s.clientCookieName,
		Value:    key,
		Path:     "/",
		MaxAge:   clientCookieMaxAge,
		HttpOnly: true,
		Secure:   s.client.CookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
	c.Set(clientContextKey, key)
	return key
}

// manager returns the session manager of this request, restoring the
// session on first use.
func (s *Server) manager(c echo.Context, opts ...dashauth.ManagerOption) (*session.Manager, error) {
	if m, ok := c.Get(managerContextKey).(*session.Manager); ok && len(opts) == 0 {
		return m, nil
	}

	mirror := credential.NewCookieMirror(c.Response(), c.Request(),
		credential.WithCookieName(s.client.CookieName()),
		credential.WithSecureCookie(s.client.CookieSecure()),
	)
	m, err := s.client.NewManager(s.clientKey(c), mirror, opts...)
	if err != nil {
		return nil, err
	}
	m.RestoreSession(c.Request().Context())
	c.Set(managerContextKey, m)
	return m, nil
}

// resolveStatus admits a request only when the durable flag of its client
// context is set. The credential cookie alone never admits a request; a
// stale or forged one is expired.
func (s *Server) resolveStatus(c echo.Context) guard.Status {
	ctx := c.Request().Context()
	_, ok, err := s.client.FlagStore().GetFlag(ctx, s.clientKey(c))
	if err != nil {
		s.logger.Error(err, "failed to read credential flag")
		return guard.Status{}
	}
	if !ok {
		mirror := credential.NewCookieMirror(c.Response(), c.Request(),
			credential.WithCookieName(s.client.CookieName()),
			credential.WithSecureCookie(s.client.CookieSecure()),
		)
		if mirror.Present() {
			_ = mirror.Erase()
		}
		return guard.Status{}
	}

	m, err := s.manager(c)
	if err != nil {
		s.logger.Error(err, "failed to build session manager")
		return guard.Status{}
	}
	return m.Status()
}

// waitHydrated blocks until the restored session has its profile or ctx ends.
func waitHydrated(ctx context.Context, m *session.Manager) {
	select {
	case <-m.Hydrated():
	case <-ctx.Done():
	}
}

// safeNext keeps post-login redirects on this origin.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return dashboardPath
	}
	parsed, err := url.Parse(next)
	if err != nil || parsed.IsAbs() || parsed.Host != "" {
		return dashboardPath
	}
	return next
}

func loginErrorRedirect(err error) string {
	return guard.DefaultLoginPath + "?error=" + url.QueryEscape(string(oerrors.CodeOf(err)))
}

// statusFor maps a failed sign-in onto the HTTP status API callers receive.
func statusFor(err error) int {
	switch oerrors.CodeOf(err) {
	case oerrors.CodeInvalidCredentials, oerrors.CodeBackendRejected, oerrors.CodeProviderDenied:
		return http.StatusUnauthorized
	case oerrors.CodeNetworkUnavailable, oerrors.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case oerrors.CodeSuperseded:
		return http.StatusConflict
	case oerrors.CodeNotImplemented:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func wantsJSON(c echo.Context) bool {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return true
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}
