package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexuslearn/nexuslink/internal/classroom"
	"github.com/nexuslearn/nexuslink/internal/config"
	"github.com/nexuslearn/nexuslink/internal/popup"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeNotLinked indicates no usable Google credential was supplied.
	ExitCodeNotLinked = 2
	// ExitCodeLinkFailed indicates the linking attempt did not succeed.
	ExitCodeLinkFailed = 3
)

// LinkFailedError reports a linking attempt that ended without success.
type LinkFailedError struct {
	Result popup.Result
}

func (e *LinkFailedError) Error() string {
	return fmt.Sprintf("linking %s (%s)", e.Result.Status, e.Result.Reason)
}

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "nexuslink",
	Short: "Link a Google account to NexusLearn through a sign-in popup",
	Long: `nexuslink opens the identity provider's sign-in page in a popup window,
waits for the completion message, and reports whether the account was linked.

The popup resolves exactly once: when the sign-in page reports success,
when the window is closed by hand, or when the attempt times out.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default "+config.ConfigPath()+")")
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits with a code matching the error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "nexuslink version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	var linkErr *LinkFailedError
	switch {
	case errors.As(err, &linkErr), errors.Is(err, popup.ErrPopupBlocked):
		return ExitCodeLinkFailed
	case errors.Is(err, classroom.ErrNotLinked), classroom.IsAuthError(err):
		return ExitCodeNotLinked
	default:
		return ExitCodeError
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(resolvedConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
