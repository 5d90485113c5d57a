package browser

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync/atomic"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

// DefaultScreen is assumed when the screen size is not configured.
var DefaultScreen = popup.Size{Width: 1920, Height: 1080}

// SystemLauncher opens popups in the user's default browser. The resulting
// window cannot be observed or closed, so attempts launched this way end by
// message or by deadline only.
type SystemLauncher struct {
	screen popup.Size
	logger *slog.Logger

	// start runs the opener command; tests replace it.
	start func(cmd *exec.Cmd) error
	goos  string
}

// NewSystemLauncher creates a launcher for the default browser.
func NewSystemLauncher(screen popup.Size, logger *slog.Logger) *SystemLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	if screen.Width <= 0 || screen.Height <= 0 {
		screen = DefaultScreen
	}
	return &SystemLauncher{
		screen: screen,
		logger: logger,
		start:  (*exec.Cmd).Start,
		goos:   runtime.GOOS,
	}
}

func (l *SystemLauncher) Screen() popup.Size {
	return l.screen
}

func (l *SystemLauncher) OpenWindow(url, name string, geometry popup.Geometry) (popup.Window, error) {
	cmd, err := openCommand(l.goos, url)
	if err != nil {
		return nil, err
	}
	if err := l.start(cmd); err != nil {
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}
	l.logger.Debug("system browser opened",
		"window", name,
		"opener", cmd.Path)
	return &systemWindow{}, nil
}

// openCommand builds the platform command that opens url.
func openCommand(goos, url string) (*exec.Cmd, error) {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return exec.Command("xdg-open", url), nil
	case "darwin":
		return exec.Command("open", url), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", goos)
	}
}

// systemWindow is a handle on a tab we do not control. Close only releases
// our ownership.
type systemWindow struct {
	released atomic.Bool
}

func (w *systemWindow) Closed() bool {
	return w.released.Load()
}

func (w *systemWindow) Close() error {
	w.released.Store(true)
	return nil
}
