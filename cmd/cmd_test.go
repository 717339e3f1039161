package cmd

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/labstack/echo/v4"
	"github.com/porthorian/dashauth"
	"github.com/porthorian/dashauth/internal/stubbackend"
	"github.com/porthorian/dashauth/pkg/crypto"
)

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func startStubBackend(t *testing.T) string {
	t.Helper()

	stub, err := stubbackend.New(stubbackend.Config{
		Users: []stubbackend.UserSeed{
			{Email: "ops@example.com", Name: "Ops Lead", Role: "manager", Password: "s3cret"},
		},
		ProviderSecret: []byte("secret"),
		Hasher:         crypto.NewPBKDF2Hasher(crypto.PBKDF2Options{Iterations: 1000}),
	})
	if err != nil {
		t.Fatalf("stubbackend.New returned error: %v", err)
	}
	e := echo.New()
	stub.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestLoginStatusLogoutCommands(t *testing.T) {
	t.Setenv("DASHAUTH_BACKEND_URL", startStubBackend(t))
	t.Setenv("DASHAUTH_STATE_FILE", filepath.Join(t.TempDir(), "state.yaml"))
	t.Setenv("DASHAUTH_CREDENTIAL_BACKEND", "")

	out, err := runCommand(t, "s3cret\n", "login", "--email", "ops@example.com", "--context", "cli-test", "--log-level", "error")
	if err != nil {
		t.Fatalf("login returned error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Signed in as Ops Lead (ops@example.com)") {
		t.Fatalf("unexpected login output: %s", out)
	}

	out, err = runCommand(t, "", "status", "--context", "cli-test", "--log-level", "error")
	if err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	if !strings.Contains(out, "Signed in as Ops Lead") || !strings.Contains(out, "Roles: manager") {
		t.Fatalf("unexpected status output: %s", out)
	}

	out, err = runCommand(t, "", "refresh", "--context", "cli-test", "--log-level", "error")
	if err != nil {
		t.Fatalf("refresh returned error: %v\n%s", err, out)
	}

	out, err = runCommand(t, "", "logout", "--context", "cli-test", "--log-level", "error")
	if err != nil {
		t.Fatalf("logout returned error: %v", err)
	}
	if !strings.Contains(out, "Signed out.") {
		t.Fatalf("unexpected logout output: %s", out)
	}

	out, err = runCommand(t, "", "status", "--context", "cli-test", "--log-level", "error")
	if err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	if !strings.Contains(out, "Signed out.") {
		t.Fatalf("expected signed out status, got: %s", out)
	}
}

func TestLoginCommandRejectsBadPassword(t *testing.T) {
	t.Setenv("DASHAUTH_BACKEND_URL", startStubBackend(t))
	t.Setenv("DASHAUTH_STATE_FILE", filepath.Join(t.TempDir(), "state.yaml"))

	_, err := runCommand(t, "wrong\n", "login", "--email", "ops@example.com", "--context", "cli-bad", "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "login failed") {
		t.Fatalf("expected login failure, got %v", err)
	}
}

func TestEnvConfig(t *testing.T) {
	t.Setenv("DASHAUTH_BACKEND_URL", "https://api.example.com")
	t.Setenv("DASHAUTH_BACKEND_TIMEOUT", "3s")
	t.Setenv("DASHAUTH_CREDENTIAL_BACKEND", "Redis")
	t.Setenv("DASHAUTH_REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("DASHAUTH_STATE_FILE", "/tmp/dashauth-state.yaml")
	t.Setenv("DASHAUTH_PROVIDER_NAME", "google")
	t.Setenv("DASHAUTH_PROVIDER_CLIENT_ID", "client-id")
	t.Setenv("DASHAUTH_PROVIDER_SCOPES", "openid, email,,")

	cfg, err := loadEnvConfig()
	if err != nil {
		t.Fatalf("loadEnvConfig returned error: %v", err)
	}
	if cfg.BackendTimeout != 3*time.Second || cfg.CredentialTTL != 24*time.Hour {
		t.Fatalf("unexpected durations: %+v", cfg)
	}

	client := cfg.clientConfig(dashauth.CredentialBackendFile, logr.Discard())
	if client.Backend.BaseURL != "https://api.example.com" {
		t.Fatalf("unexpected backend url %q", client.Backend.BaseURL)
	}
	if client.Runtime.Credential.Backend != dashauth.CredentialBackendRedis {
		t.Fatalf("expected redis backend, got %q", client.Runtime.Credential.Backend)
	}
	if client.Runtime.Redis.Namespace != "dashauth" || client.Runtime.File.Path != "/tmp/dashauth-state.yaml" {
		t.Fatalf("unexpected runtime: %+v", client.Runtime)
	}
	if len(client.Providers) != 1 || client.Providers[0].Name != "google" {
		t.Fatalf("unexpected providers: %+v", client.Providers)
	}
	if scopes := client.Providers[0].Scopes; len(scopes) != 2 || scopes[0] != "openid" || scopes[1] != "email" {
		t.Fatalf("unexpected scopes: %v", scopes)
	}
}

func TestEnvConfigFallbackBackend(t *testing.T) {
	t.Setenv("DASHAUTH_CREDENTIAL_BACKEND", "")
	t.Setenv("DASHAUTH_PROVIDER_NAME", "")

	cfg, err := loadEnvConfig()
	if err != nil {
		t.Fatalf("loadEnvConfig returned error: %v", err)
	}
	client := cfg.clientConfig(dashauth.CredentialBackendMemory, logr.Discard())
	if client.Runtime.Credential.Backend != dashauth.CredentialBackendMemory {
		t.Fatalf("expected memory fallback, got %q", client.Runtime.Credential.Backend)
	}
	if len(client.Providers) != 0 {
		t.Fatalf("expected no providers, got %+v", client.Providers)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, "loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}

	var buf bytes.Buffer
	logger, err := newLogger(&buf, "info", false)
	if err != nil {
		t.Fatalf("newLogger returned error: %v", err)
	}
	logger.Info("hello", "k", "v")
	logger.V(1).Info("hidden")
	if !strings.Contains(buf.String(), `"hello"`) || strings.Contains(buf.String(), "hidden") {
		t.Fatalf("unexpected log output: %s", buf.String())
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "", "version")
	if err != nil {
		t.Fatalf("version returned error: %v", err)
	}
	if strings.TrimSpace(out) != BuildVersion {
		t.Fatalf("unexpected version output %q", out)
	}
}
