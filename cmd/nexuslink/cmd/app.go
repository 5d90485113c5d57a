package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexuslearn/nexuslink/internal/browser"
	"github.com/nexuslearn/nexuslink/internal/classroom"
	"github.com/nexuslearn/nexuslink/internal/config"
	"github.com/nexuslearn/nexuslink/internal/history"
	"github.com/nexuslearn/nexuslink/internal/popup"
	"github.com/nexuslearn/nexuslink/internal/server"
)

// app is the wired set of components behind link and serve.
type app struct {
	logger      *slog.Logger
	bus         *browser.MessageBus
	server      *server.Server
	coordinator *popup.Coordinator
	history     *history.Store
	classroom   *classroom.Client
	origin      string

	// onResult runs after the result is recorded.
	onResult func(popup.Result)
}

// newApp binds the server, then builds the coordinator on top of the
// chosen launcher. Call close when done.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	mode, err := browser.ParseMode(cfg.Browser.Mode)
	if err != nil {
		return nil, err
	}

	bus := browser.NewMessageBus("")
	srv := server.New(server.Config{
		Addr:         cfg.Addr(),
		SignInURL:    cfg.Auth.SignInURL,
		ProviderName: cfg.Auth.ProviderName,
		Logger:       logger,
	}, bus)

	origin, err := srv.Listen()
	if err != nil {
		return nil, err
	}

	launcher := browser.SelectLauncher(browser.LauncherOptions{
		Mode:        mode,
		ChromePath:  cfg.Browser.ChromePath,
		UserDataDir: cfg.Browser.UserDataDir,
		Screen:      cfg.Screen(),
		Logger:      logger,
	})

	pc := cfg.ToPopupConfig()
	pc.Logger = logger
	coord := popup.New(browser.NewPlatform(launcher, bus), pc)

	rt := &app{
		logger:      logger,
		bus:         bus,
		server:      srv,
		coordinator: coord,
		origin:      origin,
		classroom: classroom.New(classroom.Config{
			BaseURL:  cfg.Classroom.BaseURL,
			CacheTTL: cfg.CacheTTL(),
			Logger:   logger,
		}),
	}

	if !cfg.History.Disabled {
		path := cfg.History.Path
		if path == "" {
			path = history.DefaultPath()
		}
		store, err := history.OpenAt(path)
		if err != nil {
			// History is best-effort; linking still works without it.
			logger.Warn("history unavailable", "path", path, "error", err)
		} else {
			rt.history = store
			srv.SetHistory(store)
		}
	}

	srv.SetLinker(coord)
	srv.SetClassroom(rt.classroom)
	coord.OnResult = rt.handleResult
	coord.OnSucceeded = rt.handleSucceeded

	return rt, nil
}

func (rt *app) handleResult(res popup.Result) {
	if rt.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.history.Record(ctx, res); err != nil {
			rt.logger.Warn("record attempt", "attempt_id", res.AttemptID, "error", err)
		}
	}
	if rt.onResult != nil {
		rt.onResult(res)
	}
}

// handleSucceeded drops the Classroom lists served by /classroom so the
// next read goes to the API with the newly linked account.
func (rt *app) handleSucceeded(res popup.Result) {
	rt.classroom.Invalidate()
	rt.logger.Info("account linked, reloading data",
		"attempt_id", res.AttemptID,
		"duration", res.Duration())
}

// serve runs the HTTP server in the background.
func (rt *app) serve() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.server.Serve()
	}()
	return errCh
}

// close disposes the coordinator, stops the server and closes history.
func (rt *app) close() {
	rt.coordinator.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.server.Shutdown(ctx); err != nil {
		rt.logger.Warn("server shutdown error", "error", err)
	}
	if rt.history != nil {
		if err := rt.history.Close(); err != nil {
			rt.logger.Warn("history close error", "error", err)
		}
	}
}

func describeResult(res popup.Result) string {
	switch res.Status {
	case popup.StatusSucceeded:
		return fmt.Sprintf("Account linked in %s.", res.Duration().Round(time.Second))
	case popup.StatusCancelled:
		return fmt.Sprintf("Sign-in cancelled (%s).", res.Reason)
	case popup.StatusTimedOut:
		return "Sign-in timed out; the window was closed."
	case popup.StatusPopupBlocked:
		return "The sign-in window could not be opened. Allow popups and try again."
	default:
		return res.Status.String()
	}
}
