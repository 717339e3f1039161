package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

type rootOptions struct {
	logLevel  string
	logPretty bool
}

var (
	rootOpts rootOptions

	rootCmd = &cobra.Command{
		Use:          "dashauth",
		Short:        "Dashboard session bridge CLI",
		Long:         "Sign in to the campaign dashboard backend, serve the dashboard sign-in surface and manage its credential store.",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootOpts.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error.")
	rootCmd.PersistentFlags().BoolVar(&rootOpts.logPretty, "log-pretty", false, "Write human readable logs instead of JSON.")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of the dashauth CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the zerolog sink behind the logr.Logger handed to the
// library packages.
func newLogger(out io.Writer, level string, pretty bool) (logr.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return logr.Logger{}, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	if parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(out).Level(parsed).With().Timestamp().Logger()
	return zerologr.New(&zl), nil
}

func commandLogger(cmd *cobra.Command) (logr.Logger, error) {
	return newLogger(cmd.ErrOrStderr(), rootOpts.logLevel, rootOpts.logPretty)
}
