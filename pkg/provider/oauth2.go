package provider

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	oerrors "github.com/porthorian/dashauth/pkg/errors"
	"golang.org/x/oauth2"
)

var (
	ErrMissingName     = stderrors.New("oauth2 provider: name is required")
	ErrMissingClientID = stderrors.New("oauth2 provider: client id is required")
	ErrMissingEndpoint = stderrors.New("oauth2 provider: auth and token urls are required")
)

type OAuth2Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint

	// AccessTokenAssertion forwards the access token when the provider does
	// not issue an id_token.
	AccessTokenAssertion bool

	HTTPClient *http.Client
}

// OAuth2Provider signs users in with the authorization code flow and PKCE.
type OAuth2Provider struct {
	name                 string
	config               oauth2.Config
	accessTokenAssertion bool
	httpClient           *http.Client
}

var _ IdentityProvider = (*OAuth2Provider)(nil)

func NewOAuth2Provider(config OAuth2Config) (*OAuth2Provider, error) {
	name := strings.TrimSpace(config.Name)
	if name == "" {
		return nil, ErrMissingName
	}
	if strings.TrimSpace(config.ClientID) == "" {
		return nil, ErrMissingClientID
	}
	if config.Endpoint.AuthURL == "" || config.Endpoint.TokenURL == "" {
		return nil, ErrMissingEndpoint
	}

	return &OAuth2Provider{
		name: name,
		config: oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       append([]string(nil), config.Scopes...),
			Endpoint:     config.Endpoint,
		},
		accessTokenAssertion: config.AccessTokenAssertion,
		httpClient:           config.HTTPClient,
	}, nil
}

func (p *OAuth2Provider) Name() string {
	return p.name
}

func (p *OAuth2Provider) AuthCodeURL(attempt *Attempt) string {
	config := p.configFor(attempt)
	return config.AuthCodeURL(attempt.StateParam, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(attempt.Verifier))
}

// Assertion exchanges the authorization code and returns the id_token with
// its issuer and subject. The token is read without signature verification;
// the backend verifies it.
func (p *OAuth2Provider) Assertion(ctx context.Context, attempt *Attempt, code string) (Assertion, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	config := p.configFor(attempt)
	token, err := config.Exchange(ctx, code, oauth2.VerifierOption(attempt.Verifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if stderrors.As(err, &retrieveErr) {
			return Assertion{}, oerrors.Wrap(oerrors.CodeProviderDenied, "identity provider rejected the authorization code", err)
		}
		return Assertion{}, oerrors.Wrap(oerrors.CodeNetworkUnavailable, "identity provider is unreachable, try again", err)
	}

	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		if p.accessTokenAssertion && token.AccessToken != "" {
			return Assertion{Token: token.AccessToken, Issuer: p.name}, nil
		}
		return Assertion{}, oerrors.New(oerrors.CodeProviderDenied, "identity provider returned no id_token")
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Assertion{}, oerrors.Wrap(oerrors.CodeProviderDenied, "identity provider returned a malformed id_token", err)
	}

	return Assertion{
		Token:   raw,
		Issuer:  claims.Issuer,
		Subject: claims.Subject,
	}, nil
}

func (p *OAuth2Provider) configFor(attempt *Attempt) *oauth2.Config {
	config := p.config
	if attempt != nil && attempt.RedirectURL != "" {
		config.RedirectURL = attempt.RedirectURL
	}
	return &config
}

