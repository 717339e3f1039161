// Package httptransport gates net/http handlers on the session cookie mirror.
package httptransport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/porthorian/dashauth/pkg/credential"
	"github.com/porthorian/dashauth/pkg/guard"
)

type MiddlewareConfig struct {
	CookieName string
	LoginPath  string
	// APIPrefix marks paths that always get a JSON 401 instead of a redirect.
	APIPrefix string
}

func DefaultConfig() MiddlewareConfig {
	return MiddlewareConfig{
		CookieName: credential.DefaultCookieName,
		LoginPath:  guard.DefaultLoginPath,
		APIPrefix:  "/api/",
	}
}

func (c MiddlewareConfig) withDefaults() MiddlewareConfig {
	defaults := DefaultConfig()
	if c.CookieName == "" {
		c.CookieName = defaults.CookieName
	}
	if c.LoginPath == "" {
		c.LoginPath = defaults.LoginPath
	}
	if c.APIPrefix == "" {
		c.APIPrefix = defaults.APIPrefix
	}
	return c
}

// Middleware lets a request through when it carries the session cookie. It
// reads the cookie only and never contacts the backend.
func Middleware(config MiddlewareConfig) func(http.Handler) http.Handler {
	config = config.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if credential.CookiePresent(r, config.CookieName) {
				next.ServeHTTP(w, r)
				return
			}
			Unauthenticated(w, r, config)
		})
	}
}

// StatusResolver reports the session status for a request, usually from a
// session.Manager built for it.
type StatusResolver func(r *http.Request) guard.Status

// ViewGuard applies guard.Decide per request. While the status is loading
// it answers 202 and leaves the user where they are.
func ViewGuard(resolve StatusResolver, config MiddlewareConfig) func(http.Handler) http.Handler {
	config = config.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var status guard.Status
			if resolve != nil {
				status = resolve(r)
			}

			switch guard.Decide(status) {
			case guard.Render:
				next.ServeHTTP(w, r)
			case guard.Wait:
				writeJSON(w, http.StatusAccepted, map[string]string{"status": "loading"})
			default:
				Unauthenticated(w, r, config)
			}
		})
	}
}

// Unauthenticated answers API clients with a JSON 401 and sends browsers to
// the login path with a see-other redirect.
func Unauthenticated(w http.ResponseWriter, r *http.Request, config MiddlewareConfig) {
	config = config.withDefaults()
	if WantsJSON(r, config.APIPrefix) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
		return
	}
	http.Redirect(w, r, LoginRedirect(config.LoginPath, r.URL), http.StatusSeeOther)
}

// LoginRedirect is loginPath with the originally requested path as "next".
func LoginRedirect(loginPath string, requested *url.URL) string {
	if requested == nil || requested.Path == "" || requested.Path == loginPath {
		return loginPath
	}
	return loginPath + "?" + url.Values{"next": {requested.RequestURI()}}.Encode()
}

func WantsJSON(r *http.Request, apiPrefix string) bool {
	if apiPrefix != "" && strings.HasPrefix(r.URL.Path, apiPrefix) {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
