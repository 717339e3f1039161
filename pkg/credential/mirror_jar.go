package credential

import (
	"errors"
	"net/http"
	"net/url"
	"time"
)

var (
	ErrMissingJar = errors.New("credential mirror: cookie jar is required")
	ErrMissingURL = errors.New("credential mirror: backend url is required")
)

// JarMirror mirrors the flag into a cookie jar shared with the backend HTTP
// client, so requests from a non-browser client context carry it.
type JarMirror struct {
	jar  http.CookieJar
	url  *url.URL
	name string
	now  func() time.Time
}

func NewJarMirror(jar http.CookieJar, target *url.URL, name string) (*JarMirror, error) {
	if jar == nil {
		return nil, ErrMissingJar
	}
	if target == nil {
		return nil, ErrMissingURL
	}
	if name == "" {
		name = DefaultCookieName
	}
	return &JarMirror{jar: jar, url: target, name: name, now: time.Now}, nil
}

func (m *JarMirror) Write(expiresAt time.Time) error {
	maxAge := int(expiresAt.Sub(m.now()).Seconds())
	if maxAge <= 0 {
		return m.Erase()
	}

	m.jar.SetCookies(m.url, []*http.Cookie{{
		Name:    m.name,
		Value:   cookieValue,
		Path:    "/",
		Expires: expiresAt.UTC(),
		MaxAge:  maxAge,
	}})
	return nil
}

func (m *JarMirror) Erase() error {
	m.jar.SetCookies(m.url, []*http.Cookie{ExpiredCookie(m.name, false)})
	return nil
}

func (m *JarMirror) Present() bool {
	for _, cookie := range m.jar.Cookies(m.url) {
		if cookie.Name == m.name && IsMirrorValue(cookie.Value) {
			return true
		}
	}
	return false
}
