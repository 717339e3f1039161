package session

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/porthorian/dashauth/pkg/backend"
	"github.com/porthorian/dashauth/pkg/cache"
	cachememory "github.com/porthorian/dashauth/pkg/cache/memory"
	"github.com/porthorian/dashauth/pkg/credential"
	oerrors "github.com/porthorian/dashauth/pkg/errors"
	"github.com/porthorian/dashauth/pkg/provider"
	"github.com/porthorian/dashauth/pkg/storage"
	storagememory "github.com/porthorian/dashauth/pkg/storage/memory"
)

type memMirror struct {
	mu      sync.Mutex
	present bool
}

func (m *memMirror) Write(time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present = true
	return nil
}

func (m *memMirror) Erase() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present = false
	return nil
}

func (m *memMirror) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present
}

type fakeExchanger struct {
	mu         sync.Mutex
	grants     map[string]backend.Grant
	loginErr   error
	gates      map[string]chan struct{}
	started    chan string
	logins     int
	logouts    []string
	logoutErr  error
	refresh    backend.Grant
	refreshErr error
}

func newFakeExchanger() *fakeExchanger {
	return &fakeExchanger{
		grants:  map[string]backend.Grant{},
		gates:   map[string]chan struct{}{},
		started: make(chan string, 8),
	}
}

func (e *fakeExchanger) ExchangeCredentials(ctx context.Context, identifier string, secret string) (backend.Grant, error) {
	e.mu.Lock()
	e.logins++
	gate := e.gates[identifier]
	grant, ok := e.grants[identifier]
	err := e.loginErr
	e.mu.Unlock()

	e.started <- identifier
	if gate != nil {
		<-gate
	}
	if err != nil {
		return backend.Grant{}, err
	}
	if !ok {
		return backend.Grant{}, oerrors.WithStatus(oerrors.CodeInvalidCredentials, "unknown user", http.StatusUnauthorized)
	}
	return grant, nil
}

func (e *fakeExchanger) Refresh(ctx context.Context, refreshToken string) (backend.Grant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refresh, e.refreshErr
}

func (e *fakeExchanger) Logout(ctx context.Context, accessToken string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logouts = append(e.logouts, accessToken)
	return e.logoutErr
}

func (e *fakeExchanger) loginCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logins
}

func grantFor(id string, email string) backend.Grant {
	return backend.Grant{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		User:         backend.User{ID: backend.UserID(id), Email: email, Name: "User " + id, Role: "Editor", Roles: []string{"viewer", "editor"}},
	}
}

type harness struct {
	flags    *storagememory.Adapter
	profiles *cachememory.Adapter
	store    *credential.Store
}

func newHarness(t *testing.T) harness {
	t.Helper()
	flags := storagememory.NewAdapter()
	profiles := cachememory.NewAdapter()
	t.Cleanup(func() {
		_ = flags.Close()
		_ = profiles.Close()
	})

	store, err := credential.NewStore("client-1", flags, &memMirror{})
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	return harness{flags: flags, profiles: profiles, store: store}
}

func (h harness) manager(t *testing.T, exchanger Exchanger) *Manager {
	t.Helper()
	manager, err := NewManager(Config{Exchanger: exchanger, Store: h.store, Profiles: h.profiles})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func (h harness) isSet(t *testing.T) bool {
	t.Helper()
	set, err := h.store.IsSet(context.Background())
	if err != nil {
		t.Fatalf("is set: %v", err)
	}
	return set
}

func TestLoginAgainstBackendResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":"t","user":{"id":1,"email":"user@example.com"}}`))
	}))
	t.Cleanup(server.Close)
	client, err := backend.New(backend.Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("backend client: %v", err)
	}

	h := newHarness(t)
	manager := h.manager(t, client)

	if !manager.IsLoading() {
		t.Fatal("expected a new manager to be loading")
	}

	session, err := manager.Login(context.Background(), "user@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.UserID != "1" || session.Email != "user@example.com" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !manager.IsAuthenticated() || manager.IsLoading() {
		t.Fatalf("unexpected status %+v", manager.Status())
	}
	if !h.isSet(t) {
		t.Fatal("expected credential flag after login")
	}

	snapshot, ok, _ := h.profiles.GetProfile(context.Background(), "client-1")
	if !ok || snapshot.UserID != "1" || snapshot.AccessToken != "t" {
		t.Fatalf("expected cached profile, got %+v ok=%v", snapshot, ok)
	}
}

func TestLoginNormalizesRoles(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["a@example.com"] = grantFor("7", "a@example.com")
	manager := newHarness(t).manager(t, exchanger)

	session, err := manager.Login(context.Background(), "  a@example.com ", " pw ")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(session.Roles) != 2 || session.Roles[0] != "editor" || session.Roles[1] != "viewer" {
		t.Fatalf("expected sorted unique roles, got %v", session.Roles)
	}
	if !session.HasRole("Viewer") || session.HasRole("admin") {
		t.Fatalf("unexpected role lookup for %v", session.Roles)
	}
	if session.RoleMask() == 0 || session.Permissions() == 0 {
		t.Fatal("expected role mask and permissions")
	}
}

func TestLoginRejectsBlankInputWithoutNetwork(t *testing.T) {
	exchanger := newFakeExchanger()
	h := newHarness(t)
	manager := h.manager(t, exchanger)

	inputs := [][2]string{{"", "pw"}, {"user", ""}, {"   ", "  "}}
	for _, input := range inputs {
		_, err := manager.Login(context.Background(), input[0], input[1])
		if !oerrors.IsCode(err, oerrors.CodeInvalidCredentials) {
			t.Fatalf("expected invalid_credentials for %q, got %v", input, err)
		}
	}
	if exchanger.loginCount() != 0 {
		t.Fatalf("expected no backend calls, got %d", exchanger.loginCount())
	}
	if h.isSet(t) {
		t.Fatal("expected flag to stay clear")
	}
}

func TestLoginFailureKeepsPriorSession(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["a@example.com"] = grantFor("1", "a@example.com")
	h := newHarness(t)
	manager := h.manager(t, exchanger)

	if _, err := manager.Login(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err := manager.Login(context.Background(), "b@example.com", "wrong")
	if !oerrors.IsCode(err, oerrors.CodeInvalidCredentials) {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}

	session, ok := manager.Session()
	if !ok || session.UserID != "1" {
		t.Fatalf("expected prior session to survive, got %+v ok=%v", session, ok)
	}
	if !h.isSet(t) {
		t.Fatal("expected flag to stay set")
	}

	exchanger.mu.Lock()
	exchanger.loginErr = oerrors.New(oerrors.CodeNetworkUnavailable, "down")
	exchanger.mu.Unlock()
	if _, err := manager.Login(context.Background(), "a@example.com", "pw"); !oerrors.IsCode(err, oerrors.CodeNetworkUnavailable) {
		t.Fatalf("expected network_unavailable, got %v", err)
	}
}

func TestFlagSetOnlyBetweenLoginAndLogout(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["a@example.com"] = grantFor("1", "a@example.com")
	h := newHarness(t)
	manager := h.manager(t, exchanger)

	if h.isSet(t) {
		t.Fatal("expected flag clear before login")
	}
	if _, err := manager.Login(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !h.isSet(t) {
		t.Fatal("expected flag set after login")
	}
	if err := manager.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if h.isSet(t) {
		t.Fatal("expected flag clear after logout")
	}
	if _, ok, _ := h.profiles.GetProfile(context.Background(), "client-1"); ok {
		t.Fatal("expected cached profile to be removed")
	}
}

func TestLogoutClearsLocalStateWhenRemoteFails(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["a@example.com"] = grantFor("1", "a@example.com")
	exchanger.logoutErr = oerrors.New(oerrors.CodeNetworkUnavailable, "down")
	h := newHarness(t)
	manager := h.manager(t, exchanger)

	if _, err := manager.Login(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := manager.Logout(context.Background()); err != nil {
		t.Fatalf("expected remote failure to be swallowed, got %v", err)
	}
	if manager.IsAuthenticated() || h.isSet(t) {
		t.Fatal("expected local state cleared")
	}
	if len(exchanger.logouts) != 1 || exchanger.logouts[0] != "access-1" {
		t.Fatalf("expected remote logout with the old token, got %v", exchanger.logouts)
	}
}

func TestLogoutWithoutSessionIsIdempotent(t *testing.T) {
	exchanger := newFakeExchanger()
	manager := newHarness(t).manager(t, exchanger)

	if err := manager.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := manager.Logout(context.Background()); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if len(exchanger.logouts) != 0 {
		t.Fatalf("expected no remote logout without a token, got %v", exchanger.logouts)
	}
}

func TestRestoreSessionFromFlagWithoutNetwork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.Set(ctx); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	snapshot := cache.ProfileSnapshot{UserID: "1", Email: "user@example.com", Roles: []string{"viewer"}, AccessToken: "t", IssuedAt: time.Now()}
	if err := h.profiles.SetProfile(ctx, "client-1", snapshot, time.Hour); err != nil {
		t.Fatalf("set profile: %v", err)
	}

	exchanger := newFakeExchanger()
	manager := h.manager(t, exchanger)

	status := manager.RestoreSession(ctx)
	if status.Loading || !status.Authenticated {
		t.Fatalf("expected authenticated right after restore, got %+v", status)
	}

	select {
	case <-manager.Hydrated():
	case <-time.After(2 * time.Second):
		t.Fatal("hydration did not finish")
	}

	session, ok := manager.Session()
	if !ok || session.Placeholder || session.Email != "user@example.com" {
		t.Fatalf("expected hydrated session, got %+v ok=%v", session, ok)
	}
	if exchanger.loginCount() != 0 {
		t.Fatalf("expected no backend calls, got %d", exchanger.loginCount())
	}
}

func TestRestoreSessionKeepsPlaceholderWithoutProfile(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Set(context.Background()); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	manager := h.manager(t, newFakeExchanger())

	manager.RestoreSession(context.Background())
	<-manager.Hydrated()

	session, ok := manager.Session()
	if !ok || !session.Placeholder {
		t.Fatalf("expected placeholder session, got %+v ok=%v", session, ok)
	}
}

func TestRestoreSessionWithoutFlag(t *testing.T) {
	manager := newHarness(t).manager(t, newFakeExchanger())

	status := manager.RestoreSession(context.Background())
	if status.Loading || status.Authenticated {
		t.Fatalf("expected signed out, got %+v", status)
	}
	select {
	case <-manager.Hydrated():
	default:
		t.Fatal("expected hydrated to be closed")
	}

	if again := manager.RestoreSession(context.Background()); again != status {
		t.Fatalf("expected second restore to be a no-op, got %+v", again)
	}
}

type brokenFlags struct{}

func (brokenFlags) PutFlag(context.Context, storage.FlagRecord) error { return stderrors.New("down") }
func (brokenFlags) GetFlag(context.Context, string) (storage.FlagRecord, bool, error) {
	return storage.FlagRecord{}, false, stderrors.New("down")
}
func (brokenFlags) DeleteFlag(context.Context, string) error { return stderrors.New("down") }

func TestRestoreSessionFailsClosedOnReadError(t *testing.T) {
	store, _ := credential.NewStore("client-1", brokenFlags{}, &memMirror{})
	manager, err := NewManager(Config{Exchanger: newFakeExchanger(), Store: store})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	status := manager.RestoreSession(context.Background())
	if status.Loading || status.Authenticated {
		t.Fatalf("expected signed out on read error, got %+v", status)
	}
}

func TestLoginFailsWhenFlagCannotBePersisted(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["a@example.com"] = grantFor("1", "a@example.com")
	store, _ := credential.NewStore("client-1", brokenFlags{}, &memMirror{})
	manager, _ := NewManager(Config{Exchanger: exchanger, Store: store})

	_, err := manager.Login(context.Background(), "a@example.com", "pw")
	if !oerrors.IsCode(err, oerrors.CodeStorageUnavailable) {
		t.Fatalf("expected storage_unavailable, got %v", err)
	}
	if manager.IsAuthenticated() {
		t.Fatal("expected no session without a flag")
	}
}

func TestRapidLoginsLastWins(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["first@example.com"] = grantFor("1", "first@example.com")
	exchanger.grants["second@example.com"] = grantFor("2", "second@example.com")
	gate := make(chan struct{})
	exchanger.gates["first@example.com"] = gate
	manager := newHarness(t).manager(t, exchanger)

	firstErr := make(chan error, 1)
	go func() {
		_, err := manager.Login(context.Background(), "first@example.com", "pw")
		firstErr <- err
	}()
	if got := <-exchanger.started; got != "first@example.com" {
		t.Fatalf("unexpected first exchange %q", got)
	}

	if _, err := manager.Login(context.Background(), "second@example.com", "pw"); err != nil {
		t.Fatalf("second login: %v", err)
	}
	close(gate)

	if err := <-firstErr; !oerrors.IsCode(err, oerrors.CodeSuperseded) {
		t.Fatalf("expected first login to be superseded, got %v", err)
	}

	session, ok := manager.Session()
	if !ok || session.UserID != "2" || session.Email != "second@example.com" || session.AccessToken != "access-2" {
		t.Fatalf("expected the second login's session, got %+v", session)
	}
}

func TestLogoutDuringPendingLoginWins(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["a@example.com"] = grantFor("1", "a@example.com")
	gate := make(chan struct{})
	exchanger.gates["a@example.com"] = gate
	h := newHarness(t)
	manager := h.manager(t, exchanger)

	loginErr := make(chan error, 1)
	go func() {
		_, err := manager.Login(context.Background(), "a@example.com", "pw")
		loginErr <- err
	}()
	<-exchanger.started

	if err := manager.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(gate)

	if err := <-loginErr; !oerrors.IsCode(err, oerrors.CodeSuperseded) {
		t.Fatalf("expected login to be superseded, got %v", err)
	}
	if manager.IsAuthenticated() || h.isSet(t) {
		t.Fatal("expected logout to win")
	}
}

func TestRefresh(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["a@example.com"] = grantFor("1", "a@example.com")
	exchanger.refresh = backend.Grant{AccessToken: "access-renewed", RefreshToken: "refresh-renewed", User: backend.User{ID: "1", Email: "a@example.com"}}
	h := newHarness(t)
	manager := h.manager(t, exchanger)

	if _, err := manager.Refresh(context.Background()); !oerrors.IsCode(err, oerrors.CodeUnauthenticated) {
		t.Fatalf("expected unauthenticated without a session, got %v", err)
	}

	if _, err := manager.Login(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	session, err := manager.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if session.AccessToken != "access-renewed" {
		t.Fatalf("expected renewed token, got %+v", session)
	}

	exchanger.mu.Lock()
	exchanger.refreshErr = oerrors.WithStatus(oerrors.CodeInvalidCredentials, "expired", http.StatusUnauthorized)
	exchanger.mu.Unlock()

	if _, err := manager.Refresh(context.Background()); !oerrors.IsCode(err, oerrors.CodeInvalidCredentials) {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}
	if manager.IsAuthenticated() || h.isSet(t) {
		t.Fatal("expected refused refresh to end the session")
	}
}

func TestRefreshWithoutSessionKeepsPendingLogin(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["a@example.com"] = grantFor("1", "a@example.com")
	gate := make(chan struct{})
	exchanger.gates["a@example.com"] = gate
	h := newHarness(t)
	manager := h.manager(t, exchanger)

	loginErr := make(chan error, 1)
	go func() {
		_, err := manager.Login(context.Background(), "a@example.com", "pw")
		loginErr <- err
	}()
	<-exchanger.started

	if _, err := manager.Refresh(context.Background()); !oerrors.IsCode(err, oerrors.CodeUnauthenticated) {
		t.Fatalf("expected unauthenticated without a session, got %v", err)
	}
	close(gate)

	if err := <-loginErr; err != nil {
		t.Fatalf("expected pending login to complete, got %v", err)
	}
	if !manager.IsAuthenticated() || !h.isSet(t) {
		t.Fatal("expected the pending login to install its session")
	}
}

type blockingProfiles struct {
	*cachememory.Adapter
	entered chan struct{}
	release chan struct{}
}

func (p blockingProfiles) SetProfile(ctx context.Context, key string, snapshot cache.ProfileSnapshot, ttl time.Duration) error {
	p.entered <- struct{}{}
	<-p.release
	return p.Adapter.SetProfile(ctx, key, snapshot, ttl)
}

func newBlockingManager(t *testing.T, h harness, exchanger Exchanger) (*Manager, blockingProfiles) {
	t.Helper()
	profiles := blockingProfiles{Adapter: h.profiles, entered: make(chan struct{}, 1), release: make(chan struct{})}
	manager, err := NewManager(Config{Exchanger: exchanger, Store: h.store, Profiles: profiles})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, profiles
}

func TestStatusAnswersWhileProfileWriteBlocks(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["a@example.com"] = grantFor("1", "a@example.com")
	h := newHarness(t)
	manager, profiles := newBlockingManager(t, h, exchanger)

	loginErr := make(chan error, 1)
	go func() {
		_, err := manager.Login(context.Background(), "a@example.com", "pw")
		loginErr <- err
	}()
	<-profiles.entered

	status := make(chan bool, 1)
	go func() { status <- manager.IsAuthenticated() }()
	select {
	case authenticated := <-status:
		if !authenticated {
			t.Fatal("expected the session to be installed before the profile is written")
		}
	case <-time.After(time.Second):
		t.Fatal("status blocked behind the profile write")
	}

	close(profiles.release)
	if err := <-loginErr; err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, ok, _ := h.profiles.GetProfile(context.Background(), h.store.Key()); !ok {
		t.Fatal("expected the profile to be stored")
	}
}

func TestLogoutDuringProfileWriteLeavesNoProfile(t *testing.T) {
	exchanger := newFakeExchanger()
	exchanger.grants["a@example.com"] = grantFor("1", "a@example.com")
	h := newHarness(t)
	manager, profiles := newBlockingManager(t, h, exchanger)

	loginErr := make(chan error, 1)
	go func() {
		_, err := manager.Login(context.Background(), "a@example.com", "pw")
		loginErr <- err
	}()
	<-profiles.entered

	logoutErr := make(chan error, 1)
	go func() { logoutErr <- manager.Logout(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for manager.IsAuthenticated() {
		if time.Now().After(deadline) {
			t.Fatal("logout did not clear the session while the profile write was pending")
		}
		time.Sleep(time.Millisecond)
	}

	close(profiles.release)
	if err := <-loginErr; err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := <-logoutErr; err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok, _ := h.profiles.GetProfile(context.Background(), h.store.Key()); ok {
		t.Fatal("expected logout to leave no stored profile")
	}
	if manager.IsAuthenticated() || h.isSet(t) {
		t.Fatal("expected logout to win")
	}
}

type codeProvider struct{}

func (codeProvider) Name() string                           { return "corp" }
func (codeProvider) AuthCodeURL(a *provider.Attempt) string { return "https://idp.test/authorize?state=" + a.StateParam }
func (codeProvider) Assertion(ctx context.Context, a *provider.Attempt, code string) (provider.Assertion, error) {
	return provider.Assertion{Token: "assertion-" + code, Issuer: "https://idp.test", Subject: "7"}, nil
}

func TestProviderLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != backend.DefaultProviderPath {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"access_token":"pat","user":{"id":"7","email":"p@example.com","role":"manager"}}}`))
	}))
	t.Cleanup(server.Close)
	client, _ := backend.New(backend.Config{BaseURL: server.URL})
	bridge, _ := provider.NewBridge(codeProvider{}, client)

	h := newHarness(t)
	manager, _ := NewManager(Config{Exchanger: client, Store: h.store, Profiles: h.profiles, Bridge: bridge})

	attempt, err := manager.BeginProviderLogin("")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	session, err := manager.CompleteProviderLogin(context.Background(), attempt, provider.Callback{State: attempt.StateParam, Code: "abc"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if session.UserID != "7" || !session.HasRole("manager") {
		t.Fatalf("unexpected session %+v", session)
	}
	if !h.isSet(t) {
		t.Fatal("expected flag after provider login")
	}
}

func TestProviderLoginRejectedByBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)
	client, _ := backend.New(backend.Config{BaseURL: server.URL})
	bridge, _ := provider.NewBridge(codeProvider{}, client)

	h := newHarness(t)
	manager, _ := NewManager(Config{Exchanger: client, Store: h.store, Bridge: bridge})

	attempt, _ := manager.BeginProviderLogin("")
	_, err := manager.CompleteProviderLogin(context.Background(), attempt, provider.Callback{State: attempt.StateParam, Code: "abc"})
	if !oerrors.IsCode(err, oerrors.CodeBackendRejected) {
		t.Fatalf("expected backend_rejected, got %v", err)
	}
	if attempt.State() != provider.StateFailed {
		t.Fatalf("expected failed attempt, got %q", attempt.State())
	}
	if h.isSet(t) || manager.IsAuthenticated() {
		t.Fatal("expected no session after a rejected provider login")
	}
}

// echoReceiver answers the authorization URL with a successful callback for
// the state it carries.
type echoReceiver struct{}

func (echoReceiver) RedirectURL() string { return "http://127.0.0.1/callback" }

func (echoReceiver) Receive(ctx context.Context, authURL string) (provider.Callback, error) {
	parsed, err := url.Parse(authURL)
	if err != nil {
		return provider.Callback{}, err
	}
	return provider.Callback{State: parsed.Query().Get("state"), Code: "abc"}, nil
}

func TestLoginWithProviderReceiver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"access_token":"pat","user":{"id":7,"email":"p@example.com","role":"viewer"}}}`))
	}))
	t.Cleanup(server.Close)
	client, _ := backend.New(backend.Config{BaseURL: server.URL})
	bridge, _ := provider.NewBridge(codeProvider{}, client)

	h := newHarness(t)
	manager, _ := NewManager(Config{Exchanger: client, Store: h.store, Profiles: h.profiles, Bridge: bridge})

	session, err := manager.LoginWithProvider(context.Background(), echoReceiver{})
	if err != nil {
		t.Fatalf("LoginWithProvider returned error: %v", err)
	}
	if session.UserID != "7" || session.Email != "p@example.com" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !manager.IsAuthenticated() || !h.isSet(t) {
		t.Fatal("expected provider login to establish the session")
	}
}

func TestProviderLoginWithoutBridge(t *testing.T) {
	manager := newHarness(t).manager(t, newFakeExchanger())
	if _, err := manager.BeginProviderLogin(""); !stderrors.Is(err, oerrors.ErrMissingBridge) {
		t.Fatalf("expected ErrMissingBridge, got %v", err)
	}
	if _, err := manager.LoginWithProvider(context.Background(), nil); !stderrors.Is(err, oerrors.ErrMissingBridge) {
		t.Fatalf("expected ErrMissingBridge, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{}); err != oerrors.ErrMissingExchanger {
		t.Fatalf("expected ErrMissingExchanger, got %v", err)
	}
	if _, err := NewManager(Config{Exchanger: newFakeExchanger()}); err != oerrors.ErrMissingStore {
		t.Fatalf("expected ErrMissingStore, got %v", err)
	}
}
