package credential

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

var ErrMissingResponseWriter = errors.New("credential mirror: response writer is required")

// CookieMirror mirrors the flag into a cookie on one HTTP exchange. Present
// reflects writes made earlier in the same exchange before falling back to
// the request cookie.
type CookieMirror struct {
	w      http.ResponseWriter
	r      *http.Request
	name   string
	secure bool
	now    func() time.Time

	written *bool
}

type CookieOption func(*CookieMirror)

func WithCookieName(name string) CookieOption {
	return func(m *CookieMirror) {
		if name = strings.TrimSpace(name); name != "" {
			m.name = name
		}
	}
}

func WithSecureCookie(secure bool) CookieOption {
	return func(m *CookieMirror) {
		m.secure = secure
	}
}

func NewCookieMirror(w http.ResponseWriter, r *http.Request, opts ...CookieOption) *CookieMirror {
	m := &CookieMirror{
		w:    w,
		r:    r,
		name: DefaultCookieName,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *CookieMirror) Name() string {
	return m.name
}

func (m *CookieMirror) Write(expiresAt time.Time) error {
	if m.w == nil {
		return ErrMissingResponseWriter
	}

	maxAge := int(expiresAt.Sub(m.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}

	http.SetCookie(m.w, &http.Cookie{
		Name:     m.name,
		Value:    cookieValue,
		Path:     "/",
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	m.mark(maxAge > 0)
	return nil
}

func (m *CookieMirror) Erase() error {
	if m.w == nil {
		return ErrMissingResponseWriter
	}

	http.SetCookie(m.w, ExpiredCookie(m.name, m.secure))
	m.mark(false)
	return nil
}

func (m *CookieMirror) Present() bool {
	if m.written != nil {
		return *m.written
	}
	return CookiePresent(m.r, m.name)
}

func (m *CookieMirror) mark(present bool) {
	m.written = &present
}

// ExpiredCookie returns the cookie that erases name: empty value, an expiry at
// the Unix epoch and a negative Max-Age.
func ExpiredCookie(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// CookiePresent is the read-only check used by request preprocessors.
func CookiePresent(r *http.Request, name string) bool {
	if r == nil {
		return false
	}
	if name == "" {
		name = DefaultCookieName
	}

	cookie, err := r.Cookie(name)
	if err != nil || cookie == nil {
		return false
	}
	return IsMirrorValue(cookie.Value)
}

func IsMirrorValue(value string) bool {
	return strings.TrimSpace(value) == cookieValue
}
