package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/matthieugras/pos-client/internal/api"
	"github.com/matthieugras/pos-client/internal/auth"
	"github.com/matthieugras/pos-client/internal/backoff"
	"github.com/matthieugras/pos-client/internal/config"
	"github.com/matthieugras/pos-client/internal/logging"
	"github.com/matthieugras/pos-client/internal/tokenstore"
)

var (
	version = "0.2.0"
)

// app holds what every subcommand needs. It is built once in the root's
// PersistentPreRunE so all requests of one invocation share a Client.
type app struct {
	cfg     *config.Config
	store   tokenstore.Store
	backoff *backoff.GlobalBackoff
	client  *api.Client
	session *auth.Session
}

func main() {
	a := &app{}
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "posctl",
		Short: "Command line client for the restaurant POS API",
		Long: `A CLI for the restaurant POS backend: sign in, manage inventory and
staff accounts, and export data.

Access tokens are attached to every request and refreshed transparently
when they expire. Concurrent requests share a single refresh.`,
		Version:           version,
		SilenceUsage:      true, // Don't print usage on errors
		SilenceErrors:     true, // We handle error output ourselves
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup(v) },
	}

	// Setup flags
	config.SetupFlags(rootCmd, v)

	rootCmd.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newChangePasswordCmd(a),
		newIngredientsCmd(a),
		newTransactionsCmd(a),
		newUsersCmd(a),
		newRequestCmd(a),
		newFetchCmd(a),
	)

	// Setup context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	a.close()

	if err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		logging.Close() // Ensure log file is flushed before exit
		os.Exit(1)
	}
	logging.Close()
}

func (a *app) setup(v *viper.Viper) error {
	// Load configuration
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	a.cfg = cfg

	if err := logging.Init(logging.Options{Path: cfg.LogFile, Verbose: cfg.Verbose}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Debug("Configuration loaded: base-url=%s token-store=%s workers=%d",
		cfg.BaseURL, cfg.TokenStore, cfg.Workers)

	store, err := tokenstore.Open(cfg.TokenStore, cfg.TokenFile, cfg.RedisURL, cfg.RedisPrefix)
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	a.store = store

	// Shared HTTP client for connection pooling across all workers
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	a.backoff = backoff.New(cfg.GetBackoffConfig())

	a.client, err = api.NewClient(api.ClientConfig{
		BaseURL:        cfg.BaseURL,
		HTTPClient:     httpClient,
		Store:          store,
		Backoff:        a.backoff,
		RefreshTimeout: cfg.RefreshTimeout,
		MaxPending:     cfg.MaxPending,
		MaxRetries:     cfg.MaxRetries,
		UserAgent:      "posctl/" + version,
	})
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}
	a.session = auth.NewSession(a.client)
	return nil
}

func (a *app) close() {
	if c, ok := a.store.(io.Closer); ok {
		c.Close()
	}
}

// describeError turns the errors a user can act on into short hints
func describeError(err error) string {
	var loginErr *auth.LoginError
	switch {
	case errors.As(err, &loginErr):
		return loginErr.Error()
	case api.IsSessionExpired(err):
		return fmt.Sprintf("session expired, log in again with 'posctl login' (%v)", err)
	case errors.Is(err, context.Canceled):
		return "interrupted"
	default:
		return err.Error()
	}
}

// isTerminal checks if stdout is a terminal
func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
