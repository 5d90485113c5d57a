package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

// navigateTimeout bounds the initial page load. The window stays open when
// it expires; slow identity providers are not a launch failure.
const navigateTimeout = 30 * time.Second

// ChromeOptions configures the Chrome launcher.
type ChromeOptions struct {
	// ExecPath overrides Chrome discovery.
	ExecPath string

	// UserDataDir keeps provider cookies between attempts. Empty means a
	// throwaway profile.
	UserDataDir string

	// Screen is used to center the popup.
	Screen popup.Size

	Logger *slog.Logger
}

// ChromeLauncher opens popups as dedicated Chrome windows driven over the
// DevTools protocol, which lets it notice when the user closes them.
type ChromeLauncher struct {
	opts   ChromeOptions
	logger *slog.Logger
}

// NewChromeLauncher creates a Chrome launcher.
func NewChromeLauncher(opts ChromeOptions) *ChromeLauncher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Screen.Width <= 0 || opts.Screen.Height <= 0 {
		opts.Screen = DefaultScreen
	}
	return &ChromeLauncher{opts: opts, logger: opts.Logger}
}

func (l *ChromeLauncher) Screen() popup.Size {
	return l.opts.Screen
}

func (l *ChromeLauncher) allocatorOptions(geometry popup.Geometry) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", false),
		chromedp.Flag("hide-scrollbars", false),
		chromedp.Flag("mute-audio", false),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(geometry.Width, geometry.Height),
		chromedp.Flag("window-position", fmt.Sprintf("%d,%d", geometry.Left, geometry.Top)),
	)
	if l.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
	}
	if l.opts.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(l.opts.UserDataDir))
	}
	return opts
}

// OpenWindow starts a Chrome window at url. Any failure to bring the browser
// up is returned as an error, which the coordinator reports as a blocked popup.
func (l *ChromeLauncher) OpenWindow(url, name string, geometry popup.Geometry) (popup.Window, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(geometry)...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)

	w := &chromeWindow{
		ctx: ctx,
		cancel: func() {
			cancelCtx()
			cancelAlloc()
		},
	}

	// The first Run allocates the browser; it must not carry a timeout.
	if err := chromedp.Run(ctx); err != nil {
		w.cancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	targetID := chromedp.FromContext(ctx).Target.TargetID

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if _, ok := ev.(*inspector.EventDetached); ok {
			w.markClosed()
		}
	})
	chromedp.ListenBrowser(ctx, func(ev interface{}) {
		if e, ok := ev.(*target.EventTargetDestroyed); ok && e.TargetID == targetID {
			w.markClosed()
		}
	})
	go func() {
		<-ctx.Done()
		w.markClosed()
	}()

	navCtx, cancelNav := context.WithTimeout(ctx, navigateTimeout)
	defer cancelNav()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if w.Closed() {
			return nil, fmt.Errorf("navigate %s: %w", url, err)
		}
		l.logger.Warn("popup navigation incomplete",
			"window", name,
			"error", err)
	}

	l.logger.Debug("chrome popup opened",
		"window", name,
		"target_id", string(targetID),
		"geometry", geometry.Features())

	return w, nil
}

type chromeWindow struct {
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
}

func (w *chromeWindow) markClosed() {
	w.closed.Store(true)
}

func (w *chromeWindow) Closed() bool {
	return w.closed.Load()
}

func (w *chromeWindow) Close() error {
	var err error
	w.once.Do(func() {
		w.markClosed()
		err = chromedp.Cancel(w.ctx)
		w.cancel()
	})
	return err
}

// chromeCandidates are executable names tried by FindChrome.
var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

// FindChrome returns the path of an installed Chrome or Chromium, or "".
func FindChrome() string {
	if runtime.GOOS == "darwin" {
		const app = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := exec.LookPath(app); err == nil {
			return app
		}
	}
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
