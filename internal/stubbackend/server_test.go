package stubbackend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/porthorian/dashauth/pkg/backend"
	"github.com/porthorian/dashauth/pkg/crypto"
	oerrors "github.com/porthorian/dashauth/pkg/errors"
)

var testSecret = []byte("provider-secret")

func newTestServer(t *testing.T) (*Server, *backend.Client) {
	t.Helper()

	stub, err := New(Config{
		Users: []UserSeed{
			{Email: "ops@example.com", Name: "Ops", Role: "Manager", Password: "s3cret"},
		},
		ProviderSecret: testSecret,
		ProviderIssuer: "stub-idp",
		Hasher:         crypto.NewPBKDF2Hasher(crypto.PBKDF2Options{Iterations: 1000}),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	e := echo.New()
	stub.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	client, err := backend.New(backend.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("backend.New returned error: %v", err)
	}
	return stub, client
}

func TestCredentialLoginRoundTrip(t *testing.T) {
	stub, client := newTestServer(t)

	grant, err := client.ExchangeCredentials(context.Background(), "OPS@example.com", "s3cret")
	if err != nil {
		t.Fatalf("ExchangeCredentials returned error: %v", err)
	}
	if grant.User.ID != "1" || grant.User.Email != "ops@example.com" || grant.User.Role != "Manager" {
		t.Fatalf("unexpected user: %+v", grant.User)
	}
	if !stub.AccessTokenValid(grant.AccessToken) {
		t.Fatal("expected issued access token to be valid")
	}

	if err := client.Logout(context.Background(), grant.AccessToken); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if stub.AccessTokenValid(grant.AccessToken) {
		t.Fatal("expected access token to be revoked after logout")
	}
	if _, err := client.Refresh(context.Background(), grant.RefreshToken); !oerrors.IsCode(err, oerrors.CodeInvalidCredentials) {
		t.Fatalf("expected refresh after logout to be rejected, got %v", err)
	}
}

func TestCredentialLoginRejectsBadSecret(t *testing.T) {
	_, client := newTestServer(t)

	_, err := client.ExchangeCredentials(context.Background(), "ops@example.com", "wrong")
	if !oerrors.IsCode(err, oerrors.CodeInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	_, err = client.ExchangeCredentials(context.Background(), "nobody@example.com", "s3cret")
	if !oerrors.IsCode(err, oerrors.CodeInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestLoginHandlerRequiresFields(t *testing.T) {
	stub, _ := newTestServer(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"identifier":"ops@example.com"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := stub.LoginHandler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("LoginHandler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProviderExchange(t *testing.T) {
	stub, client := newTestServer(t)

	token, err := stub.IssueProviderToken("ops@example.com", time.Minute)
	if err != nil {
		t.Fatalf("IssueProviderToken returned error: %v", err)
	}

	grant, err := client.ExchangeProviderToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ExchangeProviderToken returned error: %v", err)
	}
	if grant.User.ID != "1" || grant.AccessToken == "" {
		t.Fatalf("unexpected grant: %+v", grant)
	}

	unknown, err := stub.IssueProviderToken("stranger@example.com", time.Minute)
	if err != nil {
		t.Fatalf("IssueProviderToken returned error: %v", err)
	}
	if _, err := client.ExchangeProviderToken(context.Background(), unknown); !oerrors.IsCode(err, oerrors.CodeBackendRejected) {
		t.Fatalf("expected backend rejection for unknown identity, got %v", err)
	}

	if _, err := client.ExchangeProviderToken(context.Background(), "not-a-jwt"); !oerrors.IsCode(err, oerrors.CodeBackendRejected) {
		t.Fatalf("expected backend rejection for malformed token, got %v", err)
	}

	expired, err := stub.IssueProviderToken("ops@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("IssueProviderToken returned error: %v", err)
	}
	if _, err := client.ExchangeProviderToken(context.Background(), expired); !oerrors.IsCode(err, oerrors.CodeBackendRejected) {
		t.Fatalf("expected backend rejection for expired token, got %v", err)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	_, client := newTestServer(t)

	grant, err := client.ExchangeCredentials(context.Background(), "ops@example.com", "s3cret")
	if err != nil {
		t.Fatalf("ExchangeCredentials returned error: %v", err)
	}

	rotated, err := client.Refresh(context.Background(), grant.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if rotated.RefreshToken == grant.RefreshToken || rotated.AccessToken == grant.AccessToken {
		t.Fatal("expected refresh to issue new tokens")
	}

	if _, err := client.Refresh(context.Background(), grant.RefreshToken); !oerrors.IsCode(err, oerrors.CodeInvalidCredentials) {
		t.Fatalf("expected reused refresh token to be rejected, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err != ErrMissingProviderSecret {
		t.Fatalf("expected ErrMissingProviderSecret, got %v", err)
	}

	_, err := New(Config{
		ProviderSecret: testSecret,
		Hasher:         crypto.NewPBKDF2Hasher(crypto.PBKDF2Options{Iterations: 1000}),
		Users: []UserSeed{
			{Email: "a@example.com", Password: "x"},
			{Email: "A@example.com", Password: "y"},
		},
	})
	if err != ErrDuplicateUser {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
}

func TestLoadUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	doc := "users:\n  - email: finance@example.com\n    name: Finance\n    role: editor\n    password: pw\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write seed file: %v", err)
	}

	users, err := LoadUsers(path)
	if err != nil {
		t.Fatalf("LoadUsers returned error: %v", err)
	}
	if len(users) != 1 || users[0].Email != "finance@example.com" || users[0].Role != "editor" {
		t.Fatalf("unexpected users: %+v", users)
	}

	if _, err := LoadUsers(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing seed file")
	}
}
