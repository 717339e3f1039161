package provider

import (
	"context"
	"crypto/subtle"
	stderrors "errors"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/porthorian/dashauth/pkg/backend"
	oerrors "github.com/porthorian/dashauth/pkg/errors"
)

var (
	ErrNilProvider    = stderrors.New("provider bridge: identity provider is required")
	ErrNilExchanger   = stderrors.New("provider bridge: token exchanger is required")
	ErrNilAttempt     = stderrors.New("provider bridge: attempt is required")
	ErrAttemptClosed  = stderrors.New("provider bridge: attempt is not awaiting a callback")
	ErrNilReceiver    = stderrors.New("provider bridge: callback receiver is required")
	errStateMismatch  = stderrors.New("callback state does not match the attempt")
	errMissingCode    = stderrors.New("callback carries no authorization code")
	errEmptyAssertion = stderrors.New("identity provider returned no assertion")
)

// IdentityProvider turns an authorization callback into an identity assertion.
type IdentityProvider interface {
	Name() string
	AuthCodeURL(attempt *Attempt) string
	Assertion(ctx context.Context, attempt *Attempt, code string) (Assertion, error)
}

// TokenExchanger trades an identity assertion for a backend grant.
type TokenExchanger interface {
	ExchangeProviderToken(ctx context.Context, token string) (backend.Grant, error)
}

// CallbackReceiver shows the authorization URL to the user and waits for the
// provider to redirect back.
type CallbackReceiver interface {
	RedirectURL() string
	Receive(ctx context.Context, authURL string) (Callback, error)
}

type Option func(*Bridge)

func WithLogger(logger logr.Logger) Option {
	return func(b *Bridge) {
		if logger.GetSink() != nil {
			b.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// Bridge runs sign-in attempts against one identity provider. It holds no
// per-attempt state and is safe for concurrent use.
type Bridge struct {
	provider  IdentityProvider
	exchanger TokenExchanger
	logger    logr.Logger
	now       func() time.Time
}

func NewBridge(provider IdentityProvider, exchanger TokenExchanger, opts ...Option) (*Bridge, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if exchanger == nil {
		return nil, ErrNilExchanger
	}

	b := &Bridge{
		provider:  provider,
		exchanger: exchanger,
		logger:    logr.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Bridge) ProviderName() string {
	return b.provider.Name()
}

// Begin starts an attempt and returns it with the authorization URL set. An
// empty redirectURL keeps the provider's configured redirect target.
func (b *Bridge) Begin(redirectURL string) *Attempt {
	attempt := newAttempt(b.provider.Name(), strings.TrimSpace(redirectURL), b.now().UTC())
	attempt.AuthURL = b.provider.AuthCodeURL(attempt)
	attempt.setState(StateAwaitingProviderCallback)

	b.logger.V(1).Info("provider sign-in started", "provider", attempt.Provider, "attempt", attempt.ID)
	return attempt
}

// Complete finishes an attempt with the provider's callback. A second call on
// the same attempt fails with ErrAttemptClosed and changes nothing.
func (b *Bridge) Complete(ctx context.Context, attempt *Attempt, callback Callback) (backend.Grant, error) {
	if attempt == nil {
		return backend.Grant{}, ErrNilAttempt
	}
	if !attempt.claim() {
		return backend.Grant{}, oerrors.Wrap(oerrors.CodeProviderDenied, "sign-in attempt is no longer pending", ErrAttemptClosed)
	}

	if callback.Denied() {
		message := "sign-in was cancelled at the identity provider"
		if desc := strings.TrimSpace(callback.ErrorDescription); desc != "" {
			message = desc
		}
		return backend.Grant{}, b.failed(attempt, oerrors.Wrap(oerrors.CodeProviderDenied, message, stderrors.New(callback.Error)))
	}
	if subtle.ConstantTimeCompare([]byte(callback.State), []byte(attempt.StateParam)) != 1 {
		return backend.Grant{}, b.failed(attempt, oerrors.Wrap(oerrors.CodeProviderDenied, "sign-in could not be verified", errStateMismatch))
	}
	if strings.TrimSpace(callback.Code) == "" {
		return backend.Grant{}, b.failed(attempt, oerrors.Wrap(oerrors.CodeProviderDenied, "sign-in could not be verified", errMissingCode))
	}

	assertion, err := b.provider.Assertion(ctx, attempt, callback.Code)
	if err != nil {
		return backend.Grant{}, b.failed(attempt, assertionError(err))
	}
	if strings.TrimSpace(assertion.Token) == "" {
		return backend.Grant{}, b.failed(attempt, oerrors.Wrap(oerrors.CodeProviderDenied, "identity provider returned no assertion", errEmptyAssertion))
	}

	attempt.setState(StateExchangingToken)
	b.logger.V(1).Info("exchanging provider assertion", "provider", attempt.Provider, "attempt", attempt.ID, "issuer", assertion.Issuer)

	grant, err := b.exchanger.ExchangeProviderToken(ctx, assertion.Token)
	if err != nil {
		return backend.Grant{}, b.failed(attempt, exchangeError(err))
	}

	attempt.succeed(grant)
	b.logger.V(1).Info("provider sign-in succeeded", "provider", attempt.Provider, "attempt", attempt.ID)
	return grant, nil
}

// Run drives a whole attempt through a receiver: begin, wait for the
// callback, complete.
func (b *Bridge) Run(ctx context.Context, receiver CallbackReceiver) (backend.Grant, *Attempt, error) {
	if receiver == nil {
		return backend.Grant{}, nil, ErrNilReceiver
	}

	attempt := b.Begin(receiver.RedirectURL())
	callback, err := receiver.Receive(ctx, attempt.AuthURL)
	if err != nil {
		if attempt.claim() {
			err = b.failed(attempt, oerrors.Wrap(oerrors.CodeProviderDenied, "sign-in was not completed", err))
		}
		return backend.Grant{}, attempt, err
	}

	grant, err := b.Complete(ctx, attempt, callback)
	return grant, attempt, err
}

func (b *Bridge) failed(attempt *Attempt, err error) error {
	b.logger.V(1).Info("provider sign-in failed", "provider", attempt.Provider, "attempt", attempt.ID, "code", oerrors.CodeOf(err))
	return attempt.fail(err)
}

func assertionError(err error) error {
	switch oerrors.CodeOf(err) {
	case oerrors.CodeProviderDenied, oerrors.CodeNetworkUnavailable:
		return err
	default:
		return oerrors.Wrap(oerrors.CodeProviderDenied, "identity provider did not confirm the sign-in", err)
	}
}

func exchangeError(err error) error {
	switch oerrors.CodeOf(err) {
	case oerrors.CodeBackendRejected, oerrors.CodeNetworkUnavailable:
		return err
	default:
		return oerrors.Wrap(oerrors.CodeBackendRejected, "backend rejected the provider sign-in", err)
	}
}
