package popup

import (
	"encoding/json"
	"fmt"
	"time"
)

// Size is a width/height pair in screen pixels.
type Size struct {
	Width  int
	Height int
}

// Geometry is the placement of a popup window on screen.
type Geometry struct {
	Width  int
	Height int
	Left   int
	Top    int
}

// CenteredGeometry centers a window of the given size on screen.
// Offsets never go negative, so a window larger than the screen is pinned
// to the top-left corner.
func CenteredGeometry(screen Size, window Size) Geometry {
	left := screen.Width/2 - window.Width/2
	top := screen.Height/2 - window.Height/2
	if left < 0 {
		left = 0
	}
	if top < 0 {
		top = 0
	}
	return Geometry{
		Width:  window.Width,
		Height: window.Height,
		Left:   left,
		Top:    top,
	}
}

// Features renders the geometry as a window feature string.
func (g Geometry) Features() string {
	return fmt.Sprintf("width=%d,height=%d,scrollbars=yes,resizable=yes,left=%d,top=%d",
		g.Width, g.Height, g.Left, g.Top)
}

// Window is a secondary browsing context owned by one attempt.
type Window interface {
	// Closed reports whether the window is gone, whoever closed it.
	Closed() bool
	// Close closes the window. Closing an already closed window is a no-op.
	Close() error
}

// Timer is a scheduled callback that can be disarmed.
type Timer interface {
	// Stop disarms the timer. It reports whether the timer was still armed.
	Stop() bool
}

// Message is one cross-context message as delivered to subscribers.
// Data is left undecoded so messages from foreign origins are never parsed.
type Message struct {
	Origin string
	Data   json.RawMessage
}

// Launcher opens secondary browsing contexts.
type Launcher interface {
	// Screen returns the dimensions used to center new windows.
	Screen() Size
	// OpenWindow opens url in a new named window. A nil window or a non-nil
	// error means the window could not be created.
	OpenWindow(url, name string, geometry Geometry) (Window, error)
}

// Clock schedules callbacks. Callbacks may run on any goroutine.
type Clock interface {
	Now() time.Time
	// AfterFunc runs fn once after d.
	AfterFunc(d time.Duration, fn func()) Timer
	// Every runs fn every d until the returned timer is stopped.
	Every(d time.Duration, fn func()) Timer
}

// Messages is the cross-context message channel of the host.
type Messages interface {
	// Origin is the host's own origin, e.g. "http://127.0.0.1:7891".
	Origin() string
	// Subscribe registers fn for every message and returns a function that
	// removes the registration. The returned function is safe to call more
	// than once.
	Subscribe(fn func(Message)) (unsubscribe func())
}

// Platform bundles the host capabilities the coordinator needs.
type Platform interface {
	Launcher
	Clock
	Messages
}
