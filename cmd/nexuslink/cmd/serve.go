package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nexuslearn/nexuslink/internal/config"
	"github.com/nexuslearn/nexuslink/internal/popup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the popup server and the local control API",
	Long: `Serve the popup routes and a JSON control API on the loopback interface.

Endpoints:
  GET  /health          liveness
  GET  /link/status     pending attempt and last result
  POST /link/start      open the sign-in popup (409 when one is pending
                        under the reject policy, 424 when blocked)
  POST /link/abort      cancel the pending attempt
  GET  /link/history    recorded attempts (?limit=N)
  GET  /classroom/courses                  courses (?filter=text)
  GET  /classroom/courses/{id}/{kind}      coursework, announcements, or materials

Classroom routes take the Google access token as "Authorization: Bearer".
Their results are cached and purged whenever linking succeeds.

The config file is watched; later attempts use the reloaded popup settings.

Examples:
  nexuslink serve
  nexuslink serve --verbose
  curl -X POST http://127.0.0.1:7891/link/start`,
	RunE: runServe,
}

var serveNoWatch bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not reload the config file on change")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.onResult = func(res popup.Result) {
		logger.Info("linking finished",
			"attempt_id", res.AttemptID,
			"status", res.Status.String(),
			"reason", res.Reason)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if !serveNoWatch {
		watcher, err := config.Watch(resolvedConfigPath())
		if err != nil {
			logger.Warn("config watch unavailable", "error", err)
		} else {
			defer watcher.Close()
			go watchConfig(ctx, rt, watcher)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := rt.serve()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "nexuslink server started\n")
	fmt.Fprintf(out, "  Origin: %s\n", rt.origin)
	fmt.Fprintf(out, "  Timeout: %s\n", rt.coordinator.Config().Timeout)
	fmt.Fprintf(out, "  Pending policy: %s\n", rt.coordinator.Config().Policy)
	if rt.history != nil {
		fmt.Fprintf(out, "  History: %s\n", rt.history.Path())
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop.")

	select {
	case <-sigCh:
		fmt.Fprintln(out, "\nShutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	fmt.Fprintln(out, "Server stopped.")
	return nil
}

// watchConfig applies reloaded popup settings to later attempts.
func watchConfig(ctx context.Context, rt *app, w *config.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-w.Configs():
			if !ok {
				return
			}
			pc := cfg.ToPopupConfig()
			pc.Logger = rt.logger
			rt.coordinator.Reconfigure(pc)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			rt.logger.Warn("config reload failed", "error", err)
		}
	}
}
