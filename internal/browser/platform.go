// Package browser provides the real popup platform: wall-clock timers, an
// in-process message bus fed by the popup pages, and window launchers for
// Chrome and the system browser.
package browser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

// Mode selects how popups are opened.
type Mode string

const (
	// ModeChrome drives a dedicated Chrome window (PREFERRED).
	// Benefits: centered geometry, manual-close detection, forced close.
	ModeChrome Mode = "chrome"

	// ModeSystem hands the URL to the default browser.
	// Limitations: manual closure is invisible, attempts end by message or deadline.
	ModeSystem Mode = "system"

	// ModeAuto uses Chrome when installed, the system browser otherwise.
	ModeAuto Mode = "auto"
)

// ParseMode validates a mode name.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "chrome":
		return ModeChrome, nil
	case "system":
		return ModeSystem, nil
	case "auto", "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("invalid browser mode %q: use chrome, system, or auto", value)
	}
}

// Platform implements popup.Platform on the local machine.
type Platform struct {
	popup.Launcher
	SystemClock
	*MessageBus
}

// NewPlatform combines a launcher and a message bus.
func NewPlatform(launcher popup.Launcher, bus *MessageBus) *Platform {
	return &Platform{
		Launcher:   launcher,
		MessageBus: bus,
	}
}

// LauncherOptions configures SelectLauncher.
type LauncherOptions struct {
	Mode        Mode
	ChromePath  string
	UserDataDir string
	Screen      popup.Size
	Logger      *slog.Logger
}

// SelectLauncher chooses a launcher for mode.
func SelectLauncher(opts LauncherOptions) popup.Launcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	chrome := func(path string) popup.Launcher {
		return NewChromeLauncher(ChromeOptions{
			ExecPath:    path,
			UserDataDir: opts.UserDataDir,
			Screen:      opts.Screen,
			Logger:      logger,
		})
	}

	switch opts.Mode {
	case ModeChrome:
		return chrome(opts.ChromePath)

	case ModeSystem:
		return NewSystemLauncher(opts.Screen, logger)

	case ModeAuto:
		fallthrough
	default:
		path := opts.ChromePath
		if path == "" {
			path = FindChrome()
		}
		if path != "" {
			logger.Info("using Chrome popups (preferred)", "path", path)
			return chrome(path)
		}
		logger.Warn("Chrome not found, using system browser",
			"note", "manual popup closure cannot be detected; attempts end by message or timeout")
		return NewSystemLauncher(opts.Screen, logger)
	}
}
