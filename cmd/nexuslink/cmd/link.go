package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nexuslearn/nexuslink/internal/config"
	"github.com/nexuslearn/nexuslink/internal/popup"
	"github.com/nexuslearn/nexuslink/internal/tui"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link your Google account through a sign-in popup",
	Long: `Open the sign-in popup and wait for the outcome.

The popup is centered on screen and closes itself once sign-in completes.
Closing it by hand cancels the attempt; it is closed for you after the
timeout.

BROWSER MODES:
  chrome (PREFERRED) - A dedicated Chrome window.
    Benefits: centered geometry, manual-close detection, forced close.

  system (FALLBACK) - The default browser.
    Limitations: manual closure is invisible, attempts end by message or timeout.

Examples:
  # Link with the defaults from the config file
  nexuslink link

  # Force the system browser and a shorter timeout
  nexuslink link --browser system --timeout 2m

  # Plain output for scripts
  nexuslink link --no-tui`,
	RunE: runLink,
}

var (
	linkNoTUI   bool
	linkTimeout time.Duration
	linkBrowser string
)

func init() {
	rootCmd.AddCommand(linkCmd)

	linkCmd.Flags().BoolVar(&linkNoTUI, "no-tui", false, "Plain output even on a terminal")
	linkCmd.Flags().DurationVar(&linkTimeout, "timeout", 0, "Override the attempt timeout")
	linkCmd.Flags().StringVar(&linkBrowser, "browser", "", "Browser mode: chrome (preferred), system, or auto")
}

// applyLinkFlags overrides cfg with the flags the user set.
func applyLinkFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("timeout") {
		if linkTimeout <= 0 {
			return fmt.Errorf("--timeout must be positive")
		}
		cfg.Popup.Timeout = linkTimeout.String()
	}
	if cmd.Flags().Changed("browser") {
		cfg.Browser.Mode = linkBrowser
	}
	return cfg.Validate()
}

func runLink(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyLinkFlags(cmd, cfg); err != nil {
		return err
	}

	interactive := !linkNoTUI && term.IsTerminal(int(os.Stdout.Fd()))

	logger := newLogger()
	if interactive && !verbose {
		// Log lines would tear the view.
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	rt, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()
	serveErr := rt.serve()

	if interactive {
		return linkInteractive(cmd.Context(), rt, cfg, serveErr)
	}
	return linkPlain(cmd.Context(), rt, cmd.OutOrStdout(), serveErr)
}

func linkInteractive(ctx context.Context, rt *app, cfg *config.Config, serveErr <-chan error) error {
	model := tui.New(rt.coordinator, tui.Options{
		Provider:      cfg.Auth.ProviderName,
		ExitOnSuccess: true,
	})
	program := tea.NewProgram(model, tea.WithContext(ctx))
	rt.onResult = func(res popup.Result) {
		program.Send(tui.ResultMsg{Result: res})
	}

	go func() {
		if err := <-serveErr; err != nil {
			rt.logger.Error("popup server stopped", "error", err)
			program.Quit()
		}
	}()

	final, err := program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run link view: %w", err)
	}

	m, ok := final.(tui.Model)
	if !ok {
		return errors.New("link view returned an unexpected model")
	}
	res, ok := m.Result()
	if !ok {
		return &LinkFailedError{Result: popup.Result{Status: popup.StatusCancelled, Reason: popup.ReasonAborted}}
	}
	if res.Status != popup.StatusSucceeded {
		return &LinkFailedError{Result: res}
	}
	return nil
}

func linkPlain(ctx context.Context, rt *app, out io.Writer, serveErr <-chan error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	attempt, err := rt.coordinator.StartLinking()
	if err != nil {
		if errors.Is(err, popup.ErrPopupBlocked) {
			fmt.Fprintln(out, describeResult(popup.Result{Status: popup.StatusPopupBlocked}))
		}
		return err
	}

	fmt.Fprintf(out, "Complete sign-in in the popup window (closes automatically at %s).\n",
		attempt.Deadline.Local().Format("15:04:05"))
	fmt.Fprintln(out, "Press Ctrl+C to cancel.")

	waitCtx, cancelWait := context.WithCancel(context.Background())
	defer cancelWait()
	go func() {
		select {
		case <-ctx.Done():
			rt.coordinator.Abort()
		case err := <-serveErr:
			if err != nil {
				rt.logger.Error("popup server stopped", "error", err)
			}
			rt.coordinator.Abort()
		case <-waitCtx.Done():
		}
	}()

	res, err := rt.coordinator.Wait(waitCtx, attempt.ID)
	if err != nil {
		return fmt.Errorf("wait for sign-in: %w", err)
	}

	fmt.Fprintln(out, describeResult(res))
	if res.Status != popup.StatusSucceeded {
		return &LinkFailedError{Result: res}
	}
	return nil
}
