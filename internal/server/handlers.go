package server

import (
	stderrors "errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/porthorian/dashauth"
	oerrors "github.com/porthorian/dashauth/pkg/errors"
	"github.com/porthorian/dashauth/pkg/provider"
	"github.com/porthorian/dashauth/pkg/session"
)

type loginRequest struct {
	Identifier string `json:"identifier" form:"identifier"`
	Secret     string `json:"secret" form:"secret"`
	Next       string `json:"next" form:"next"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type sessionResponse struct {
	Status      string   `json:"status"`
	UserID      string   `json:"user_id,omitempty"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Placeholder bool     `json:"placeholder,omitempty"`
}

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Campaign dashboard</h1>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="next" value="{{.Next}}">
<label>Email <input name="identifier" autocomplete="username"></label>
<label>Password <input name="secret" type="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
{{range .Providers}}<p><a href="/auth/provider/{{.}}">Sign in with {{.}}</a></p>
{{end}}
</body>
</html>
`))

type loginView struct {
	Error     string
	Next      string
	Providers []string
}

var loginErrors = map[oerrors.Code]string{
	oerrors.CodeInvalidCredentials: "Email or password is incorrect.",
	oerrors.CodeBackendRejected:    "The dashboard refused this sign-in.",
	oerrors.CodeNetworkUnavailable: "The dashboard is unreachable, try again.",
	oerrors.CodeProviderDenied:     "Sign-in with the identity provider was not completed.",
	oerrors.CodeStorageUnavailable: "Your sign-in could not be saved, try again.",
}

func (s *Server) LoginPageHandler(c echo.Context) error {
	m, err := s.manager(c)
	if err != nil {
		return err
	}
	if m.IsAuthenticated() {
		return c.Redirect(http.StatusSeeOther, safeNext(c.QueryParam("next")))
	}

	view := loginView{
		Next:      safeNext(c.QueryParam("next")),
		Providers: s.client.Providers().Names(),
	}
	if code := c.QueryParam("error"); code != "" {
		view.Error = loginErrors[oerrors.Code(code)]
		if view.Error == "" {
			view.Error = "Sign-in failed."
		}
	}

	var page strings.Builder
	if err := loginPage.Execute(&page, view); err != nil {
		return err
	}
	return c.HTML(http.StatusOK, page.String())
}

func (s *Server) LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed_request", Message: "malformed sign-in request"})
	}

	m, err := s.manager(c)
	if err != nil {
		return err
	}

	signedIn, err := m.Login(c.Request().Context(), req.Identifier, req.Secret)
	if err != nil {
		s.logger.V(1).Info("sign-in failed", "code", string(oerrors.CodeOf(err)))
		if wantsJSON(c) {
			return c.JSON(statusFor(err), errorFor(err))
		}
		return c.Redirect(http.StatusSeeOther, loginErrorRedirect(err))
	}

	if wantsJSON(c) {
		return c.JSON(http.StatusOK, sessionView(signedIn))
	}
	return c.Redirect(http.StatusSeeOther, safeNext(req.Next))
}

func (s *Server) LogoutHandler(c echo.Context) error {
	m, err := s.manager(c)
	if err != nil {
		return err
	}

	// Wait for the restored profile so the backend logout carries a token.
	waitHydrated(c.Request().Context(), m)
	if err := m.Logout(c.Request().Context()); err != nil {
		s.logger.Error(err, "sign-out left stored state behind")
	}

	if wantsJSON(c) {
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, s.guard.LoginPath)
}

func (s *Server) ProviderStartHandler(c echo.Context) error {
	name := c.Param("name")
	if _, ok := s.client.Bridge(name); !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown_provider", Message: "unknown identity provider"})
	}

	m, err := s.manager(c, dashauth.WithProvider(name))
	if err != nil {
		return err
	}

	attempt, err := m.BeginProviderLogin(s.callbackURL(c, name))
	if err != nil {
		return c.Redirect(http.StatusSeeOther, loginErrorRedirect(err))
	}
	s.client.PendingAttempts().Put(s.clientKey(c), attempt)
	return c.Redirect(http.StatusFound, attempt.AuthURL)
}

func (s *Server) ProviderCallbackHandler(c echo.Context) error {
	name := c.Param("name")
	callback := provider.CallbackFromQuery(c.QueryParams())

	attempt, ok := s.client.PendingAttempts().Take(callback.State, s.clientKey(c))
	if !ok || attempt.Provider != name {
		s.logger.V(1).Info("provider callback without a pending attempt", "provider", name)
		return c.Redirect(http.StatusSeeOther, loginErrorRedirect(oerrors.New(oerrors.CodeProviderDenied, "no pending sign-in")))
	}

	m, err := s.manager(c, dashauth.WithProvider(name))
	if err != nil {
		return err
	}
	if _, err := m.CompleteProviderLogin(c.Request().Context(), attempt, callback); err != nil {
		return c.Redirect(http.StatusSeeOther, loginErrorRedirect(err))
	}
	return c.Redirect(http.StatusSeeOther, dashboardPath)
}

func (s *Server) SessionHandler(c echo.Context) error {
	m, err := s.manager(c)
	if err != nil {
		return err
	}
	waitHydrated(c.Request().Context(), m)

	current, ok := m.Session()
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: string(oerrors.CodeUnauthenticated), Message: "not signed in"})
	}
	return c.JSON(http.StatusOK, sessionView(current))
}

func (s *Server) DashboardHandler(c echo.Context) error {
	m, err := s.manager(c)
	if err != nil {
		return err
	}
	waitHydrated(c.Request().Context(), m)

	current, _ := m.Session()
	name := current.DisplayName
	if name == "" {
		name = "there"
	}
	return c.HTML(http.StatusOK, "<!doctype html><html><body><h1>Hello, "+template.HTMLEscapeString(name)+"</h1>"+
		`<form method="post" action="/logout"><button type="submit">Sign out</button></form></body></html>`)
}

func (s *Server) callbackURL(c echo.Context, name string) string {
	origin := s.publicURL
	if origin == "" {
		origin = c.Scheme() + "://" + c.Request().Host
	}
	return origin + "/auth/provider/" + name + "/callback"
}

func errorFor(err error) errorResponse {
	message := "sign-in failed"
	var typed *oerrors.Error
	if !oerrors.IsInternalCode(err) && stderrors.As(err, &typed) && typed.Message != "" {
		message = typed.Message
	}
	return errorResponse{Error: string(oerrors.CodeOf(err)), Message: message}
}

func sessionView(current session.Session) sessionResponse {
	roles := current.Roles
	if roles == nil {
		roles = []string{}
	}
	return sessionResponse{
		Status:      "authenticated",
		UserID:      current.UserID,
		Email:       current.Email,
		DisplayName: current.DisplayName,
		Roles:       roles,
		Permissions: current.Permissions().Names(),
		Placeholder: current.Placeholder,
	}
}
