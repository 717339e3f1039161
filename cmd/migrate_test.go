package cmd

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

func TestWithVersionTable(t *testing.T) {
	got := withVersionTable("postgres://localhost/dash?sslmode=disable")
	parsed, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse %q: %v", got, err)
	}
	query := parsed.Query()
	if query.Get("x-migrations-table") != `"dashauth"."schema_migrations"` || query.Get("x-migrations-table-quoted") != "true" {
		t.Fatalf("unexpected url %q", got)
	}
	if query.Get("sslmode") != "disable" {
		t.Fatalf("expected existing query to be kept, got %q", got)
	}

	custom := "postgres://localhost/dash?x-migrations-table=versions"
	if got := withVersionTable(custom); got != custom {
		t.Fatalf("expected an explicit table to be kept, got %q", got)
	}
}

func TestResolveSource(t *testing.T) {
	got, err := resolveSource("  ")
	if err != nil || got != embeddedMigrationsURL {
		t.Fatalf("expected embedded source, got %q %v", got, err)
	}

	got, err = resolveSource("file:///srv/migrations")
	if err != nil || got != "file:///srv/migrations" {
		t.Fatalf("expected url passthrough, got %q %v", got, err)
	}

	dir := t.TempDir()
	got, err = resolveSource(dir)
	if err != nil {
		t.Fatalf("resolve directory: %v", err)
	}
	if !strings.HasPrefix(got, "file://") || !strings.HasSuffix(got, filepath.ToSlash(dir)) {
		t.Fatalf("expected file url for %q, got %q", dir, got)
	}
}

func TestResolveDatabaseURL(t *testing.T) {
	t.Setenv("DASHAUTH_MIGRATE_DATABASE_URL", "")
	t.Setenv("DASHAUTH_POSTGRES_DSN", "")
	if _, err := resolveDatabaseURL(""); err == nil {
		t.Fatal("expected error without any database url")
	}

	t.Setenv("DASHAUTH_POSTGRES_DSN", "postgres://dsn/db")
	if got, err := resolveDatabaseURL(""); err != nil || got != "postgres://dsn/db" {
		t.Fatalf("expected dsn fallback, got %q %v", got, err)
	}

	t.Setenv("DASHAUTH_MIGRATE_DATABASE_URL", "postgres://migrate/db")
	if got, err := resolveDatabaseURL(""); err != nil || got != "postgres://migrate/db" {
		t.Fatalf("expected migrate url to win over dsn, got %q %v", got, err)
	}

	if got, err := resolveDatabaseURL(" postgres://flag/db "); err != nil || got != "postgres://flag/db" {
		t.Fatalf("expected flag to win, got %q %v", got, err)
	}
}

func TestParseSteps(t *testing.T) {
	for _, arg := range []string{"0", "-1", "two"} {
		if _, err := parseSteps(arg); err == nil {
			t.Fatalf("expected error for %q", arg)
		}
	}
	if steps, err := parseSteps(" 3 "); err != nil || steps != 3 {
		t.Fatalf("unexpected result %d %v", steps, err)
	}
}

func TestMigrateSubcommands(t *testing.T) {
	migrateCmd := newMigrateCommand()
	for _, name := range []string{"up", "down", "force", "version"} {
		found, _, err := migrateCmd.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Fatalf("expected %q subcommand, got %v %v", name, found, err)
		}
	}

	force, _, _ := migrateCmd.Find([]string{"force"})
	if err := force.RunE(force, []string{"-2"}); err == nil || !strings.Contains(err.Error(), "invalid version") {
		t.Fatalf("expected invalid version error, got %v", err)
	}
}
