package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/porthorian/dashauth/internal/stubbackend"
	"github.com/spf13/cobra"
)

type stubEnv struct {
	Addr           string        `env:"DASHAUTH_STUB_ADDR" envDefault:"127.0.0.1:8081"`
	UsersFile      string        `env:"DASHAUTH_STUB_USERS_FILE"`
	ProviderSecret string        `env:"DASHAUTH_STUB_PROVIDER_SECRET" envDefault:"dashauth-development-secret"`
	ProviderIssuer string        `env:"DASHAUTH_STUB_PROVIDER_ISSUER"`
	TokenTTL       time.Duration `env:"DASHAUTH_STUB_TOKEN_TTL" envDefault:"1h"`
}

func init() {
	stubCmd := &cobra.Command{
		Use:   "stub-backend",
		Short: "Run an in-memory development backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stub, cfg, err := newStubFromEnv(cmd)
			if err != nil {
				return err
			}

			e := echo.New()
			e.HideBanner = true
			e.HidePort = true
			e.Use(echomiddleware.Recover())
			stub.RegisterRoutes(e)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errs := make(chan error, 1)
			go func() {
				cmd.Printf("Stub backend listening on %s\n", cfg.Addr)
				if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errs <- err
				}
				close(errs)
			}()

			select {
			case err, ok := <-errs:
				if ok {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "provider-token <email>",
		Short: "Print an identity token the stub backend accepts for email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stub, _, err := newStubFromEnv(cmd)
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := stub.IssueProviderToken(args[0], ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	tokenCmd.Flags().Duration("ttl", 10*time.Minute, "Token lifetime.")
	stubCmd.AddCommand(tokenCmd)

	rootCmd.AddCommand(stubCmd)
}

func newStubFromEnv(cmd *cobra.Command) (*stubbackend.Server, stubEnv, error) {
	logger, err := commandLogger(cmd)
	if err != nil {
		return nil, stubEnv{}, err
	}

	var cfg stubEnv
	if err := env.Parse(&cfg); err != nil {
		return nil, stubEnv{}, err
	}

	users := stubbackend.DefaultUsers()
	if cfg.UsersFile != "" {
		users, err = stubbackend.LoadUsers(cfg.UsersFile)
		if err != nil {
			return nil, stubEnv{}, err
		}
	}

	stub, err := stubbackend.New(stubbackend.Config{
		Users:          users,
		ProviderSecret: []byte(cfg.ProviderSecret),
		ProviderIssuer: cfg.ProviderIssuer,
		TokenTTL:       cfg.TokenTTL,
		Logger:         logger,
	})
	if err != nil {
		return nil, stubEnv{}, err
	}
	return stub, cfg, nil
}
