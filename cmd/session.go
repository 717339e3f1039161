package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/porthorian/dashauth"
	"github.com/porthorian/dashauth/pkg/credential"
	"github.com/porthorian/dashauth/pkg/provider"
	"github.com/porthorian/dashauth/pkg/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const defaultContextKey = "default"

type sessionOptions struct {
	contextKey string
}

// cliSession is one CLI invocation's view of a client context: a dashauth
// client with the file store by default and the manager bound to it.
type cliSession struct {
	client  *dashauth.Client
	manager *session.Manager
}

func (s *cliSession) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func init() {
	opts := &sessionOptions{}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier, _ := cmd.Flags().GetString("email")
			return runLogin(cmd, opts, identifier)
		},
	}
	loginCmd.Flags().String("email", "", "Account email. Prompted for when empty.")

	providerCmd := &cobra.Command{
		Use:   "login-provider",
		Short: "Sign in through the configured identity provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("provider")
			port, _ := cmd.Flags().GetInt("port")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return runProviderLogin(cmd, opts, name, port, timeout)
		},
	}
	providerCmd.Flags().String("provider", "", "Identity provider name. Defaults to DASHAUTH_PROVIDER_NAME.")
	providerCmd.Flags().Int("port", 0, "Loopback port for the provider callback. 0 picks a free port.")
	providerCmd.Flags().Duration("timeout", 5*time.Minute, "How long to wait for the provider callback.")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd, opts)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Renew the stored session tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(cmd, opts)
		},
	}

	for _, c := range []*cobra.Command{loginCmd, providerCmd, logoutCmd, statusCmd, refreshCmd} {
		c.Flags().StringVar(&opts.contextKey, "context", defaultContextKey, "Name of the client context the session is stored under.")
		rootCmd.AddCommand(c)
	}
}

func openSession(cmd *cobra.Command, opts *sessionOptions, managerOpts ...dashauth.ManagerOption) (*cliSession, error) {
	logger, err := commandLogger(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := loadEnvConfig()
	if err != nil {
		return nil, err
	}

	client, err := dashauth.NewWithContext(cmd.Context(), cfg.clientConfig(dashauth.CredentialBackendFile, logger))
	if err != nil {
		return nil, err
	}

	mirror, err := credential.NewJarMirror(client.Backend().Jar(), client.Backend().BaseURL(), client.CookieName())
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	key := strings.TrimSpace(opts.contextKey)
	if key == "" {
		key = defaultContextKey
	}
	manager, err := client.NewManager(key, mirror, managerOpts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &cliSession{client: client, manager: manager}, nil
}

func runLogin(cmd *cobra.Command, opts *sessionOptions, identifier string) error {
	reader := bufio.NewReader(cmd.InOrStdin())

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		cmd.Print("Email: ")
		line, err := readLine(reader)
		if err != nil {
			return err
		}
		identifier = line
	}

	cmd.Print("Password: ")
	secret, err := readSecret(cmd.InOrStdin(), reader)
	cmd.Println()
	if err != nil {
		return err
	}

	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	signedIn, err := s.manager.Login(cmd.Context(), identifier, secret)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	cmd.Printf("Signed in as %s (%s)\n", displayName(signedIn), signedIn.Email)
	return nil
}

func runProviderLogin(cmd *cobra.Command, opts *sessionOptions, name string, port int, timeout time.Duration) error {
	if name == "" {
		cfg, err := loadEnvConfig()
		if err != nil {
			return err
		}
		name = cfg.Provider.Name
	}
	if name == "" {
		return errors.New("no identity provider: set --provider or DASHAUTH_PROVIDER_NAME")
	}

	s, err := openSession(cmd, opts, dashauth.WithProvider(name))
	if err != nil {
		return err
	}
	defer s.Close()

	receiver, err := provider.NewLoopbackReceiver(port, provider.WithPresenter(func(authURL string) error {
		cmd.Printf("Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
		return nil
	}))
	if err != nil {
		return err
	}
	defer receiver.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	signedIn, err := s.manager.LoginWithProvider(ctx, receiver)
	if err != nil {
		return fmt.Errorf("provider login failed: %w", err)
	}
	cmd.Printf("Signed in as %s (%s)\n", displayName(signedIn), signedIn.Email)
	return nil
}

func runLogout(cmd *cobra.Command, opts *sessionOptions) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	restore(cmd.Context(), s.manager)
	if err := s.manager.Logout(cmd.Context()); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	cmd.Println("Signed out.")
	return nil
}

func runStatus(cmd *cobra.Command, opts *sessionOptions) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	restore(cmd.Context(), s.manager)
	current, ok := s.manager.Session()
	if !ok {
		cmd.Println("Signed out.")
		return nil
	}
	if current.Placeholder {
		cmd.Println("Signed in (profile not stored locally).")
		return nil
	}

	cmd.Printf("Signed in as %s (%s)\n", displayName(current), current.Email)
	if len(current.Roles) > 0 {
		cmd.Printf("Roles: %s\n", strings.Join(current.Roles, ", "))
	}
	if names := current.Permissions().Names(); len(names) > 0 {
		cmd.Printf("Permissions: %s\n", strings.Join(names, ", "))
	}
	return nil
}

func runRefresh(cmd *cobra.Command, opts *sessionOptions) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	restore(cmd.Context(), s.manager)
	refreshed, err := s.manager.Refresh(cmd.Context())
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	cmd.Printf("Session renewed for %s\n", displayName(refreshed))
	return nil
}

// restore reads the stored flag and waits for the profile to load.
func restore(ctx context.Context, m *session.Manager) {
	m.RestoreSession(ctx)
	select {
	case <-m.Hydrated():
	case <-ctx.Done():
	}
}

func displayName(s session.Session) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if s.Email != "" {
		return s.Email
	}
	return s.UserID
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret reads without echo from a terminal and falls back to a plain
// line for piped input.
func readSecret(in io.Reader, reader *bufio.Reader) (string, error) {
	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		raw, err := term.ReadPassword(int(file.Fd()))
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	return readLine(reader)
}
