package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/porthorian/dashauth"
	"github.com/porthorian/dashauth/internal/server"
	"github.com/spf13/cobra"
)

func init() {
	var (
		addr          string
		publicURL     string
		pruneInterval time.Duration
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard sign-in surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := commandLogger(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadEnvConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.ListenAddr
			}
			if publicURL == "" {
				publicURL = cfg.PublicURL
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := dashauth.NewWithContext(ctx, cfg.clientConfig(dashauth.CredentialBackendMemory, logger))
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := client.Close(); closeErr != nil {
					logger.Error(closeErr, "failed to close dashauth client")
				}
			}()

			srv, err := server.New(server.Config{
				Client:        client,
				PublicURL:     publicURL,
				PruneInterval: pruneInterval,
				Logger:        logger,
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx, addr)
		},
	}

	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address. Can also be set via DASHAUTH_LISTEN_ADDR.")
	serveCmd.Flags().StringVar(&publicURL, "public-url", "", "External origin used for provider callback URLs. Can also be set via DASHAUTH_PUBLIC_URL.")
	serveCmd.Flags().DurationVar(&pruneInterval, "prune-interval", server.DefaultPruneInterval, "How often expired credential flags are removed from postgres.")
	rootCmd.AddCommand(serveCmd)
}

