// Package echotransport gates echo routes on the session cookie mirror.
package echotransport

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/porthorian/dashauth/pkg/credential"
	"github.com/porthorian/dashauth/pkg/guard"
	httptransport "github.com/porthorian/dashauth/pkg/transport/http"
)

// RequireSession lets a request through when it carries the session cookie.
// Browsers are redirected to the login path, API clients get a JSON 401.
func RequireSession(config httptransport.MiddlewareConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if credential.CookiePresent(c.Request(), cookieName(config)) {
				return next(c)
			}
			return unauthenticated(c, config)
		}
	}
}

// StatusResolver reports the session status for the current request.
type StatusResolver func(c echo.Context) guard.Status

// RequireStatus applies guard.Decide with a per-request resolver.
func RequireStatus(resolve StatusResolver, config httptransport.MiddlewareConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var status guard.Status
			if resolve != nil {
				status = resolve(c)
			}

			switch guard.Decide(status) {
			case guard.Render:
				return next(c)
			case guard.Wait:
				return c.JSON(http.StatusAccepted, map[string]string{"status": "loading"})
			default:
				return unauthenticated(c, config)
			}
		}
	}
}

func unauthenticated(c echo.Context, config httptransport.MiddlewareConfig) error {
	defaults := httptransport.DefaultConfig()
	loginPath := config.LoginPath
	if loginPath == "" {
		loginPath = defaults.LoginPath
	}
	apiPrefix := config.APIPrefix
	if apiPrefix == "" {
		apiPrefix = defaults.APIPrefix
	}

	if httptransport.WantsJSON(c.Request(), apiPrefix) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
	}
	return c.Redirect(http.StatusSeeOther, httptransport.LoginRedirect(loginPath, c.Request().URL))
}

func cookieName(config httptransport.MiddlewareConfig) string {
	if config.CookieName == "" {
		return credential.DefaultCookieName
	}
	return config.CookieName
}
