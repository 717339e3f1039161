// Package provider drives sign-in through an external identity provider: the
// OAuth authorization redirect, the callback, and the exchange of the
// provider's identity assertion for a backend grant.
package provider

import (
	"crypto/rand"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/dashauth/pkg/backend"
	"golang.org/x/oauth2"
)

type State string

const (
	StateIdle                     State = "idle"
	StateAwaitingProviderCallback State = "awaiting_provider_callback"
	StateExchangingToken          State = "exchanging_token"
	StateSucceeded                State = "succeeded"
	StateFailed                   State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Assertion is the provider-signed proof of identity handed to the backend.
// It is consumed once and never stored.
type Assertion struct {
	Token   string
	Issuer  string
	Subject string
}

// Callback is what the provider sent back to the redirect target.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

func CallbackFromQuery(query url.Values) Callback {
	return Callback{
		State:            query.Get("state"),
		Code:             query.Get("code"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}
}

func (c Callback) Denied() bool {
	return c.Error != ""
}

// Attempt is one sign-in through a provider. It can be completed once.
type Attempt struct {
	ID          string
	Provider    string
	StateParam  string
	Verifier    string
	RedirectURL string
	AuthURL     string
	CreatedAt   time.Time

	mu      sync.Mutex
	state   State
	claimed bool
	err     error
	grant   backend.Grant
}

func newAttempt(providerName string, redirectURL string, now time.Time) *Attempt {
	return &Attempt{
		ID:          uuid.NewString(),
		Provider:    providerName,
		StateParam:  rand.Text(),
		Verifier:    oauth2.GenerateVerifier(),
		RedirectURL: redirectURL,
		CreatedAt:   now,
		state:       StateIdle,
	}
}

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err is the failure recorded when the attempt ended in StateFailed.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Attempt) Grant() (backend.Grant, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.grant, a.state == StateSucceeded
}

func (a *Attempt) setState(state State) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

// claim marks the attempt as being completed. Only the first caller wins.
func (a *Attempt) claim() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.claimed || a.state != StateAwaitingProviderCallback {
		return false
	}
	a.claimed = true
	return true
}

func (a *Attempt) fail(err error) error {
	a.mu.Lock()
	a.state = StateFailed
	a.err = err
	a.mu.Unlock()
	return err
}

func (a *Attempt) succeed(grant backend.Grant) {
	a.mu.Lock()
	a.state = StateSucceeded
	a.grant = grant
	a.mu.Unlock()
}
