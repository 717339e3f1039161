package session

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/porthorian/dashauth/pkg/backend"
	"github.com/porthorian/dashauth/pkg/cache"
	oerrors "github.com/porthorian/dashauth/pkg/errors"
	"github.com/porthorian/dashauth/pkg/guard"
	"github.com/porthorian/dashauth/pkg/provider"
)

const defaultHydrateTimeout = 5 * time.Second

// Exchanger is the backend the Manager signs in against. *backend.Client
// implements it.
type Exchanger interface {
	ExchangeCredentials(ctx context.Context, identifier string, secret string) (backend.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (backend.Grant, error)
	Logout(ctx context.Context, accessToken string) error
}

// CredentialStore is the durable session flag. *credential.Store implements it.
type CredentialStore interface {
	Key() string
	TTL() time.Duration
	Set(ctx context.Context) error
	Clear(ctx context.Context) error
	IsSet(ctx context.Context) (bool, error)
}

type Config struct {
	Exchanger Exchanger
	Store     CredentialStore
	Profiles  cache.ProfileCache
	Bridge    *provider.Bridge
	Logger    logr.Logger
	Now       func() time.Time
}

// Manager owns the session of one client context. Every operation that
// changes the session takes a generation when it starts; a result whose
// generation is no longer current is dropped and reported as superseded.
type Manager struct {
	exchanger Exchanger
	store     CredentialStore
	profiles  cache.ProfileCache
	bridge    *provider.Bridge
	logger    logr.Logger
	now       func() time.Time

	mu         sync.Mutex
	profileMu  sync.Mutex
	generation uint64
	session    *Session
	loading    bool
	restored   bool
	hydrated   chan struct{}
}

var _ guard.StatusReporter = (*Manager)(nil)

func NewManager(config Config) (*Manager, error) {
	if config.Exchanger == nil {
		return nil, oerrors.ErrMissingExchanger
	}
	if config.Store == nil {
		return nil, oerrors.ErrMissingStore
	}

	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		exchanger: config.Exchanger,
		store:     config.Store,
		profiles:  config.Profiles,
		bridge:    config.Bridge,
		logger:    logger.WithValues("client", config.Store.Key()),
		now:       now,
		loading:   true,
		hydrated:  make(chan struct{}),
	}, nil
}

// Login exchanges an identifier and secret for a session. Blank input is
// rejected without contacting the backend. On failure the previous session,
// if any, is left as it was.
func (m *Manager) Login(ctx context.Context, identifier string, secret string) (Session, error) {
	identifier = strings.TrimSpace(identifier)
	secret = strings.TrimSpace(secret)
	if identifier == "" || secret == "" {
		return Session{}, oerrors.New(oerrors.CodeInvalidCredentials, "identifier and secret are required")
	}

	generation := m.nextGeneration()
	grant, err := m.exchanger.ExchangeCredentials(ctx, identifier, secret)
	if err != nil {
		m.logger.V(1).Info("login failed", "code", oerrors.CodeOf(err))
		return Session{}, err
	}

	return m.establish(ctx, generation, grant, "password")
}

// LoginWithProvider signs in through the configured identity provider using
// receiver to deliver the callback.
func (m *Manager) LoginWithProvider(ctx context.Context, receiver provider.CallbackReceiver) (Session, error) {
	if m.bridge == nil {
		return Session{}, oerrors.Wrap(oerrors.CodeNotImplemented, "provider sign-in is not configured", oerrors.ErrMissingBridge)
	}

	generation := m.nextGeneration()
	grant, attempt, err := m.bridge.Run(ctx, receiver)
	if err != nil {
		if attempt != nil {
			m.logger.V(1).Info("provider login failed", "attempt", attempt.ID, "code", oerrors.CodeOf(err))
		}
		return Session{}, err
	}

	return m.establish(ctx, generation, grant, "provider:"+attempt.Provider)
}

// BeginProviderLogin starts a redirect based provider sign-in. The caller
// sends the user to attempt.AuthURL and later passes the callback to
// CompleteProviderLogin.
func (m *Manager) BeginProviderLogin(redirectURL string) (*provider.Attempt, error) {
	if m.bridge == nil {
		return nil, oerrors.Wrap(oerrors.CodeNotImplemented, "provider sign-in is not configured", oerrors.ErrMissingBridge)
	}
	return m.bridge.Begin(redirectURL), nil
}

func (m *Manager) CompleteProviderLogin(ctx context.Context, attempt *provider.Attempt, callback provider.Callback) (Session, error) {
	if m.bridge == nil {
		return Session{}, oerrors.Wrap(oerrors.CodeNotImplemented, "provider sign-in is not configured", oerrors.ErrMissingBridge)
	}

	generation := m.nextGeneration()
	grant, err := m.bridge.Complete(ctx, attempt, callback)
	if err != nil {
		return Session{}, err
	}

	return m.establish(ctx, generation, grant, "provider:"+attempt.Provider)
}

// Logout clears the local session and the credential flag, then asks the
// backend to invalidate the token. A backend failure is logged and not
// returned; a failure to clear the flag is returned after the local session
// is already gone.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	previous := m.session
	m.session = nil
	m.loading = false
	clearErr := m.store.Clear(ctx)
	m.mu.Unlock()

	m.syncProfile(ctx, nil)

	if previous != nil && previous.AccessToken != "" {
		if err := m.exchanger.Logout(ctx, previous.AccessToken); err != nil {
			m.logger.Error(err, "remote logout failed", "user_id", previous.UserID)
		}
	}
	m.logger.Info("logged out")

	if clearErr != nil {
		return oerrors.Wrap(oerrors.CodeStorageUnavailable, "failed to clear the stored session", clearErr)
	}
	return nil
}

// RestoreSession reads the credential flag once per Manager. A set flag gives
// an authenticated placeholder session right away; the stored profile is
// loaded in the background and Hydrated is closed when that finishes. A flag
// that cannot be read counts as not set.
func (m *Manager) RestoreSession(ctx context.Context) guard.Status {
	m.mu.Lock()
	if m.restored {
		status := m.statusLocked()
		m.mu.Unlock()
		return status
	}
	m.restored = true
	generation := m.generation
	m.mu.Unlock()

	set, err := m.store.IsSet(ctx)
	if err != nil {
		m.logger.Error(err, "failed to read credential flag, treating as signed out")
		set = false
	}

	m.mu.Lock()
	restoring := set && m.generation == generation && m.session == nil
	if restoring {
		restored := placeholder(m.now())
		m.session = &restored
	}
	m.loading = false
	status := m.statusLocked()
	m.mu.Unlock()

	if !restoring {
		close(m.hydrated)
		return status
	}

	m.logger.V(1).Info("restored session from credential flag")
	go m.hydrate(context.WithoutCancel(ctx), generation)
	return status
}

// Hydrated is closed once RestoreSession has finished loading the stored
// profile, or found nothing to load.
func (m *Manager) Hydrated() <-chan struct{} {
	return m.hydrated
}

// Refresh renews the session tokens. Nothing calls it automatically. A
// refresh the backend refuses ends the session.
func (m *Manager) Refresh(ctx context.Context) (Session, error) {
	m.mu.Lock()
	var refreshToken string
	if m.session != nil {
		refreshToken = m.session.RefreshToken
	}
	if refreshToken == "" {
		m.mu.Unlock()
		return Session{}, oerrors.New(oerrors.CodeUnauthenticated, "no session to refresh")
	}
	m.generation++
	generation := m.generation
	m.mu.Unlock()

	grant, err := m.exchanger.Refresh(ctx, refreshToken)
	if err != nil {
		if oerrors.IsCode(err, oerrors.CodeInvalidCredentials) {
			m.invalidate(ctx, generation)
		}
		return Session{}, err
	}

	return m.establish(ctx, generation, grant, "refresh")
}

func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return m.session.Clone(), true
}

func (m *Manager) Status() guard.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) IsLoading() bool {
	return m.Status().Loading
}

func (m *Manager) IsAuthenticated() bool {
	return m.Status().Authenticated
}

func (m *Manager) statusLocked() guard.Status {
	return guard.Status{
		Loading:       m.loading,
		Authenticated: m.session != nil,
	}
}

func (m *Manager) nextGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	return m.generation
}

// establish installs the session for grant unless a newer operation started
// after generation was taken.
func (m *Manager) establish(ctx context.Context, generation uint64, grant backend.Grant, method string) (Session, error) {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		m.logger.V(1).Info("dropping superseded result", "method", method)
		return Session{}, oerrors.New(oerrors.CodeSuperseded, "a newer sign-in or sign-out replaced this result")
	}

	if err := m.store.Set(ctx); err != nil {
		m.mu.Unlock()
		return Session{}, oerrors.Wrap(oerrors.CodeStorageUnavailable, "failed to persist the session", err)
	}

	established := FromGrant(grant, m.now())
	m.session = &established
	m.loading = false
	m.mu.Unlock()

	m.syncProfile(ctx, &established)

	m.logger.Info("login succeeded", "method", method, "user_id", established.UserID)
	return established.Clone(), nil
}

func (m *Manager) invalidate(ctx context.Context, generation uint64) {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		return
	}

	m.session = nil
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error(err, "failed to clear credential flag after token invalidation")
	}
	m.mu.Unlock()

	m.syncProfile(ctx, nil)
	m.logger.Info("session invalidated by backend")
}

func (m *Manager) hydrate(ctx context.Context, generation uint64) {
	defer close(m.hydrated)
	if m.profiles == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, defaultHydrateTimeout)
	defer cancel()

	snapshot, ok, err := m.profiles.GetProfile(ctx, m.store.Key())
	if err != nil {
		m.logger.Error(err, "failed to load cached session profile")
		return
	}
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation || m.session == nil || !m.session.Placeholder {
		return
	}
	hydrated := FromSnapshot(snapshot)
	m.session = &hydrated
	m.logger.V(1).Info("hydrated restored session", "user_id", hydrated.UserID)
}

// syncProfile writes the profile of installed, or deletes the stored profile
// when installed is nil. It runs without m.mu held. Writes are serialized by
// profileMu and skipped once installed is no longer the current session.
func (m *Manager) syncProfile(ctx context.Context, installed *Session) {
	if m.profiles == nil {
		return
	}
	m.profileMu.Lock()
	defer m.profileMu.Unlock()

	m.mu.Lock()
	current := m.session == installed
	m.mu.Unlock()
	if !current {
		return
	}

	if installed == nil {
		if err := m.profiles.DeleteProfile(ctx, m.store.Key()); err != nil && !stderrors.Is(err, context.Canceled) {
			m.logger.Error(err, "failed to delete cached session profile")
		}
		return
	}
	if err := m.profiles.SetProfile(ctx, m.store.Key(), installed.Snapshot(), m.store.TTL()); err != nil {
		m.logger.Error(err, "failed to cache session profile")
	}
}
