// Package popuptest provides a simulated popup platform with a manual clock.
// Nothing runs on its own: timers fire only inside Advance and messages are
// delivered only by Post, both synchronously on the caller's goroutine.
package popuptest

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

// DefaultOrigin is the origin a new Platform reports.
const DefaultOrigin = "http://localhost:3000"

// ErrBlocked is what OpenWindow returns while BlockPopups is set.
var ErrBlocked = errors.New("window.open returned null")

// Platform implements popup.Platform deterministically.
type Platform struct {
	mu sync.Mutex

	origin string
	screen popup.Size
	now    time.Time

	timers    []*Timer
	scheduled []*Timer
	nextSeq   int

	subs    map[int]func(popup.Message)
	allSubs []func(popup.Message)
	nextSub int

	windows     []*Window
	blockPopups bool
	nilWindow   bool
}

// New returns a platform at a fixed instant with a 1920x1080 screen.
func New() *Platform {
	return &Platform{
		origin: DefaultOrigin,
		screen: popup.Size{Width: 1920, Height: 1080},
		now:    time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
		subs:   make(map[int]func(popup.Message)),
	}
}

// SetOrigin changes the reported origin.
func (p *Platform) SetOrigin(origin string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.origin = origin
}

// SetScreen changes the reported screen size.
func (p *Platform) SetScreen(size popup.Size) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screen = size
}

// BlockPopups makes OpenWindow fail with ErrBlocked.
func (p *Platform) BlockPopups(block bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockPopups = block
}

// ReturnNilWindow makes OpenWindow return (nil, nil), the way a browser
// reports a blocked popup.
func (p *Platform) ReturnNilWindow(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nilWindow = v
}

func (p *Platform) Origin() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.origin
}

func (p *Platform) Screen() popup.Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screen
}

func (p *Platform) OpenWindow(url, name string, geometry popup.Geometry) (popup.Window, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.blockPopups {
		return nil, ErrBlocked
	}
	if p.nilWindow {
		return nil, nil
	}
	w := &Window{URL: url, Name: name, Geometry: geometry}
	p.windows = append(p.windows, w)
	return w, nil
}

// Windows returns every window opened so far, oldest first.
func (p *Platform) Windows() []*Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Window, len(p.windows))
	copy(out, p.windows)
	return out
}

// LastWindow returns the most recently opened window, or nil.
func (p *Platform) LastWindow() *Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.windows) == 0 {
		return nil
	}
	return p.windows[len(p.windows)-1]
}

func (p *Platform) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

func (p *Platform) AfterFunc(d time.Duration, fn func()) popup.Timer {
	return p.schedule(d, 0, fn)
}

func (p *Platform) Every(d time.Duration, fn func()) popup.Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	return p.schedule(d, d, fn)
}

func (p *Platform) schedule(d, period time.Duration, fn func()) *Timer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSeq++
	t := &Timer{
		platform: p,
		when:     p.now.Add(d),
		period:   period,
		fn:       fn,
		seq:      p.nextSeq,
	}
	p.timers = append(p.timers, t)
	p.scheduled = append(p.scheduled, t)
	return t
}

// Scheduled returns every timer ever scheduled, stopped ones included.
func (p *Platform) Scheduled() []*Timer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Timer, len(p.scheduled))
	copy(out, p.scheduled)
	return out
}

// ArmedTimers returns the number of timers still scheduled.
func (p *Platform) ArmedTimers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Advance moves the clock forward by d, firing due timers in order.
// Callbacks run without the platform lock held.
func (p *Platform) Advance(d time.Duration) {
	p.mu.Lock()
	target := p.now.Add(d)
	p.mu.Unlock()

	for {
		p.mu.Lock()
		next := p.nextDueLocked(target)
		if next == nil {
			p.now = target
			p.mu.Unlock()
			return
		}
		p.now = next.when
		if next.period > 0 {
			next.when = next.when.Add(next.period)
		} else {
			p.removeLocked(next)
		}
		fn := next.fn
		p.mu.Unlock()

		fn()
	}
}

func (p *Platform) nextDueLocked(target time.Time) *Timer {
	due := make([]*Timer, 0, len(p.timers))
	for _, t := range p.timers {
		if !t.when.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].when.Equal(due[j].when) {
			return due[i].seq < due[j].seq
		}
		return due[i].when.Before(due[j].when)
	})
	return due[0]
}

func (p *Platform) removeLocked(t *Timer) bool {
	for i, cur := range p.timers {
		if cur == t {
			p.timers = append(p.timers[:i], p.timers[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Platform) Subscribe(fn func(popup.Message)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	p.allSubs = append(p.allSubs, fn)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// Subscribers returns the number of live message subscriptions.
func (p *Platform) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Post delivers payload, JSON-encoded, from origin to every subscriber.
func (p *Platform) Post(origin string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	p.PostRaw(origin, data)
}

// PostRaw delivers data verbatim from origin to every subscriber.
func (p *Platform) PostRaw(origin string, data []byte) {
	p.mu.Lock()
	subs := make([]func(popup.Message), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	msg := popup.Message{Origin: origin, Data: json.RawMessage(data)}
	for _, fn := range subs {
		fn(msg)
	}
}

// PostStale delivers payload to every listener ever subscribed, removed
// ones included. It simulates a message that was already queued when a
// listener was unsubscribed.
func (p *Platform) PostStale(origin string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	p.mu.Lock()
	subs := make([]func(popup.Message), len(p.allSubs))
	copy(subs, p.allSubs)
	p.mu.Unlock()

	msg := popup.Message{Origin: origin, Data: json.RawMessage(data)}
	for _, fn := range subs {
		fn(msg)
	}
}

// Timer is a simulated timer.
type Timer struct {
	platform *Platform
	when     time.Time
	period   time.Duration
	fn       func()
	seq      int
}

func (t *Timer) Stop() bool {
	t.platform.mu.Lock()
	defer t.platform.mu.Unlock()
	return t.platform.removeLocked(t)
}

// Fire runs the timer callback immediately, armed or not. It simulates a
// callback that was already queued when the timer was stopped.
func (t *Timer) Fire() {
	t.fn()
}

// Window is a fake popup window.
type Window struct {
	URL      string
	Name     string
	Geometry popup.Geometry

	mu         sync.Mutex
	closed     bool
	closeCalls int
	manual     bool
}

func (w *Window) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeCalls++
	w.closed = true
	return nil
}

// CloseManually simulates the user closing the window.
func (w *Window) CloseManually() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.manual = true
}

// CloseCalls returns how many times Close was called.
func (w *Window) CloseCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCalls
}

// ClosedByUser reports whether CloseManually was used.
func (w *Window) ClosedByUser() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.manual
}
