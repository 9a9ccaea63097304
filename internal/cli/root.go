// Package cli provides chatctl, the terminal client for the chat server.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/config"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/syncclient"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

const (
	envServer = "CHATCTL_SERVER"
	envToken  = "CHATCTL_TOKEN"
)

var errNotLoggedIn = errors.New("not logged in: run chatctl login or pass --token")

// app holds the global flags and what is derived from them.
type app struct {
	server    string
	token     string
	tokenFile string
	logLevel  string
	logFile   string
	retryFor  time.Duration

	log      *slog.Logger
	closeLog func() error
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".chatctl-token"
	}
	return filepath.Join(dir, "chatctl", "token")
}

// NewRootCommand builds the chatctl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Terminal client for the chat server",
		Long: `chatctl talks to a chat server over its REST API and WebSocket.

Log in once; the session token is stored in the token file and reused by
every other command.

Examples:
  chatctl login --email ann@example.com
  chatctl conversations
  chatctl send --to 42 "hello"
  chatctl chat 6f1c0c1e-...`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.log, a.closeLog = config.SetupLogger(a.logFile, config.ParseLogLevel(a.logLevel))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closeLog != nil {
				if err := a.closeLog(); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close log file: %v\n", err)
				}
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.server, "server", "s", config.GetEnv(envServer, "http://localhost:8000"), "chat server base URL")
	flags.StringVar(&a.token, "token", config.GetEnv(envToken, ""), "session token (overrides the token file)")
	flags.StringVar(&a.tokenFile, "token-file", defaultTokenFile(), "where the session token is stored")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFile, "log-file", "", "also write JSON logs to this file")
	flags.DurationVar(&a.retryFor, "retry-for", 30*time.Second, "how long to keep retrying a failed read")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.conversationsCmd(),
		a.unreadCmd(),
		a.sendCmd(),
		a.presenceCmd(),
		a.chatCmd(),
	)

	return root
}

// Execute runs chatctl with the process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

// sessionToken returns the token from --token or the token file.
func (a *app) sessionToken() (string, error) {
	if a.token != "" {
		return a.token, nil
	}

	data, err := os.ReadFile(a.tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return "", errNotLoggedIn
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", errNotLoggedIn
	}
	return token, nil
}

func (a *app) saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(a.tokenFile), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(a.tokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// client returns an authenticated REST client.
func (a *app) client() (*syncclient.Client, error) {
	token, err := a.sessionToken()
	if err != nil {
		return nil, err
	}
	c := syncclient.NewClient(a.server, token)
	c.SetMaxRetryElapsed(a.retryFor)
	return c, nil
}

// describe turns client errors into something a terminal user can act on.
func describe(err error) error {
	if errors.Is(err, syncclient.ErrUnauthorized) {
		return fmt.Errorf("%w (session expired? run chatctl login)", err)
	}
	return err
}
