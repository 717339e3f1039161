// Package server serves the dashboard sign-in surface over echo. Each browser
// is one client context, named by a random id cookie, with its own
// session.Manager built per request.
package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/porthorian/dashauth"
	httptransport "github.com/porthorian/dashauth/pkg/transport/http"
)

const (
	DefaultClientCookieName = "dash_client"
	DefaultPruneInterval    = 15 * time.Minute
	shutdownTimeout         = 10 * time.Second
	clientCookieMaxAge      = 365 * 24 * 60 * 60
)

var ErrMissingClient = stderrors.New("server: dashauth client is required")

type Config struct {
	Client *dashauth.Client
	// PublicURL is the externally visible origin used to build provider
	// callback URLs. Requests are used when it is empty.
	PublicURL        string
	ClientCookieName string
	PruneInterval    time.Duration
	Logger           logr.Logger
}

type Server struct {
	client           *dashauth.Client
	echo             *echo.Echo
	publicURL        string
	clientCookieName string
	pruneInterval    time.Duration
	guard            httptransport.MiddlewareConfig
	logger           logr.Logger
}

// expiredFlagPruner is implemented by flag stores that keep expired rows
// until they are swept.
type expiredFlagPruner interface {
	DeleteExpiredFlags(ctx context.Context, before time.Time) (int64, error)
}

func New(config Config) (*Server, error) {
	if config.Client == nil {
		return nil, ErrMissingClient
	}

	s := &Server{
		client:           config.Client,
		publicURL:        strings.TrimRight(strings.TrimSpace(config.PublicURL), "/"),
		clientCookieName: config.ClientCookieName,
		pruneInterval:    config.PruneInterval,
		logger:           config.Logger,
	}
	if s.clientCookieName == "" {
		s.clientCookieName = DefaultClientCookieName
	}
	if s.pruneInterval <= 0 {
		s.pruneInterval = DefaultPruneInterval
	}
	if s.logger.GetSink() == nil {
		s.logger = config.Client.Logger()
	}

	s.guard = httptransport.DefaultConfig()
	s.guard.CookieName = config.Client.CookieName()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.Secure())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			s.logger.V(1).Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency.String(), "request_id", v.RequestID)
			return nil
		},
	}))
	s.echo = e
	s.RegisterRoutes(e)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is done, then shuts down gracefully. Expired
// credential flags are pruned in the background when the flag store keeps
// them.
func (s *Server) Run(ctx context.Context, addr string) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("starting dashboard server", "addr", addr)
		if err := s.echo.Start(addr); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	pruneCtx, stopPruning := context.WithCancel(ctx)
	defer stopPruning()
	go s.pruneLoop(pruneCtx)

	select {
	case err, ok := <-errs:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("dashboard server stopped")
	return nil
}

func (s *Server) pruneLoop(ctx context.Context) {
	pruner, ok := s.client.FlagStore().(expiredFlagPruner)
	if !ok {
		return
	}

	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneOnce(ctx, pruner)
		}
	}
}

func (s *Server) pruneOnce(ctx context.Context, pruner expiredFlagPruner) {
	removed, err := pruner.DeleteExpiredFlags(ctx, time.Now())
	if err != nil {
		s.logger.Error(err, "failed to prune expired credential flags")
		return
	}
	if removed > 0 {
		s.logger.V(1).Info("pruned expired credential flags", "count", removed)
	}
}
