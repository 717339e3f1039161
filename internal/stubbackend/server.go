// Package stubbackend is an in-memory development backend that serves the
// authentication endpoints the dashboard consumes.
package stubbackend

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/porthorian/dashauth/pkg/crypto"
)

const defaultTokenTTL = time.Hour

var (
	ErrMissingProviderSecret = stderrors.New("stub backend: provider secret is required")
	ErrDuplicateUser         = stderrors.New("stub backend: user already exists")
	errUnknownToken          = stderrors.New("unknown token")
)

type UserSeed struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

type Config struct {
	Users []UserSeed
	// ProviderSecret verifies the HS256 identity tokens posted to the
	// provider exchange endpoint.
	ProviderSecret []byte
	ProviderIssuer string
	TokenTTL       time.Duration
	Hasher         crypto.Hasher
	Logger         logr.Logger
	Now            func() time.Time
}

type user struct {
	id           int64
	email        string
	name         string
	role         string
	passwordHash string
}

type issuedToken struct {
	userID    int64
	expiresAt time.Time
}

type Server struct {
	hasher         crypto.Hasher
	providerSecret []byte
	providerIssuer string
	tokenTTL       time.Duration
	logger         logr.Logger
	now            func() time.Time

	mu      sync.Mutex
	nextID  int64
	users   map[string]*user
	byID    map[int64]*user
	access  map[string]issuedToken
	refresh map[string]issuedToken
}

func New(config Config) (*Server, error) {
	if len(config.ProviderSecret) == 0 {
		return nil, ErrMissingProviderSecret
	}

	s := &Server{
		hasher:         config.Hasher,
		providerSecret: config.ProviderSecret,
		providerIssuer: config.ProviderIssuer,
		tokenTTL:       config.TokenTTL,
		logger:         config.Logger,
		now:            config.Now,
		users:          map[string]*user{},
		byID:           map[int64]*user{},
		access:         map[string]issuedToken{},
		refresh:        map[string]issuedToken{},
	}
	if s.hasher == nil {
		s.hasher = crypto.NewPBKDF2Hasher(crypto.DefaultPBKDF2Options())
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = defaultTokenTTL
	}
	if s.logger.GetSink() == nil {
		s.logger = logr.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}

	for _, seed := range config.Users {
		if err := s.AddUser(seed); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddUser hashes the seed password and stores the user. Ids are assigned in
// order starting at 1.
func (s *Server) AddUser(seed UserSeed) error {
	email := normalizeEmail(seed.Email)
	if email == "" || seed.Password == "" {
		return fmt.Errorf("stub backend: user email and password are required")
	}

	hash, err := s.hasher.Hash(seed.Password)
	if err != nil {
		return fmt.Errorf("stub backend: hash password for %s: %w", email, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[email]; exists {
		return ErrDuplicateUser
	}

	s.nextID++
	u := &user{
		id:           s.nextID,
		email:        email,
		name:         seed.Name,
		role:         seed.Role,
		passwordHash: hash,
	}
	s.users[email] = u
	s.byID[u.id] = u
	return nil
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/login", s.LoginHandler)
	e.POST("/auth/provider", s.ProviderHandler)
	e.POST("/auth/logout", s.LogoutHandler)
	e.POST("/auth/refresh", s.RefreshHandler)
}

// IssueProviderToken signs an identity token the provider endpoint accepts.
// It stands in for an identity provider during development and tests.
func (s *Server) IssueProviderToken(email string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := providerClaims{
		Email: normalizeEmail(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.providerIssuer,
			Subject:   uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.providerSecret)
}

// AccessTokenValid reports whether token is a live access token.
func (s *Server) AccessTokenValid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.lookupLocked(s.access, token)
	return err == nil
}

type providerClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (s *Server) verifyProviderToken(raw string) (providerClaims, error) {
	claims := providerClaims{}
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now)}
	if s.providerIssuer != "" {
		options = append(options, jwt.WithIssuer(s.providerIssuer))
	}

	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.providerSecret, nil
	}, options...)
	if err != nil {
		return providerClaims{}, err
	}
	return claims, nil
}

// issueLocked hands out a fresh access and refresh token pair for u.
func (s *Server) issueLocked(u *user) (string, string) {
	expiresAt := s.now().Add(s.tokenTTL)
	access := uuid.NewString()
	refresh := uuid.NewString()
	s.access[access] = issuedToken{userID: u.id, expiresAt: expiresAt}
	s.refresh[refresh] = issuedToken{userID: u.id, expiresAt: expiresAt.Add(s.tokenTTL)}
	return access, refresh
}

func (s *Server) lookupLocked(tokens map[string]issuedToken, token string) (*user, error) {
	issued, ok := tokens[token]
	if !ok {
		return nil, errUnknownToken
	}
	if !s.now().Before(issued.expiresAt) {
		delete(tokens, token)
		return nil, errUnknownToken
	}
	u, ok := s.byID[issued.userID]
	if !ok {
		return nil, errUnknownToken
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
