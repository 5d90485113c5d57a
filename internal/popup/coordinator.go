// Package popup coordinates popup-based OAuth account linking: it opens a
// secondary window that signs the user in with the identity provider and
// resolves the attempt exactly once, from whichever of the completion
// message, the window-closed poll, or the deadline comes first.
package popup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownAttempt is returned by Wait for ids that are neither pending
// nor among the last finishedKept attempts.
var ErrUnknownAttempt = errors.New("unknown linking attempt")

// finishedKept bounds how many finished attempts Wait can still resolve.
const finishedKept = 16

// PendingPolicy decides what StartLinking does while an attempt is pending.
type PendingPolicy int

const (
	// PolicySupersede cancels the pending attempt and starts a new one.
	PolicySupersede PendingPolicy = iota
	// PolicyReject refuses the new attempt with ErrAttemptPending.
	PolicyReject
)

func (p PendingPolicy) String() string {
	switch p {
	case PolicySupersede:
		return "supersede"
	case PolicyReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Config configures the coordinator.
type Config struct {
	// Route is the internal path that starts the provider sign-in.
	Route string

	// WindowName names the popup window.
	WindowName string

	// WindowSize is the popup size; the position is centered on screen.
	WindowSize Size

	// PollInterval is how often the popup is checked for manual closure.
	PollInterval time.Duration

	// Timeout bounds the lifetime of an attempt.
	Timeout time.Duration

	// SuccessTags are the message types accepted as completion.
	SuccessTags []string

	// Policy applies when StartLinking is called with an attempt pending.
	Policy PendingPolicy

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Route:        "/auth/popup-signin",
		WindowName:   "google-oauth-popup",
		WindowSize:   Size{Width: 500, Height: 600},
		PollInterval: time.Second,
		Timeout:      5 * time.Minute,
		SuccessTags:  DefaultSuccessTags(),
		Policy:       PolicySupersede,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Route == "" {
		c.Route = def.Route
	}
	if c.WindowName == "" {
		c.WindowName = def.WindowName
	}
	if c.WindowSize.Width <= 0 || c.WindowSize.Height <= 0 {
		c.WindowSize = def.WindowSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if len(c.SuccessTags) == 0 {
		c.SuccessTags = def.SuccessTags
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// attempt is the coordinator-owned record behind an Attempt snapshot.
// Every field except done is guarded by Coordinator.mu.
type attempt struct {
	id        string
	status    Status
	startedAt time.Time
	deadline  time.Time

	window      Window
	unsubscribe func()
	poll        Timer
	timeout     Timer

	result Result
	done   chan struct{}
}

func (a *attempt) snapshot() Attempt {
	return Attempt{
		ID:        a.id,
		Status:    a.status,
		StartedAt: a.startedAt,
		Deadline:  a.deadline,
	}
}

// Coordinator runs popup linking attempts, one pending at a time.
type Coordinator struct {
	config   Config
	platform Platform
	logger   *slog.Logger
	runID    string

	startMu  sync.Mutex // serializes StartLinking
	mu       sync.Mutex
	current  *attempt
	finished []*attempt // oldest first, at most finishedKept
	disposed bool

	// Callbacks, set before the first StartLinking.
	// OnResult receives every terminal result exactly once, PopupBlocked included.
	OnResult func(Result)
	// OnSucceeded runs after OnResult for successful attempts. Callers use it
	// to reload all authenticated state.
	OnSucceeded func(Result)
}

// New creates a coordinator on top of platform.
func New(platform Platform, config Config) *Coordinator {
	config = config.withDefaults()

	runID := uuid.New().String()[:8]

	return &Coordinator{
		config:   config,
		platform: platform,
		logger:   config.Logger.With("run_id", runID),
		runID:    runID,
	}
}

// RunID returns the correlation ID for this coordinator.
func (c *Coordinator) RunID() string {
	return c.runID
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Reconfigure replaces the configuration used by later attempts. A pending
// attempt keeps the timers it was armed with.
func (c *Coordinator) Reconfigure(config Config) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if config.Logger == nil {
		config.Logger = c.config.Logger
	}
	c.config = config.withDefaults()
	c.logger.Info("configuration updated",
		"timeout", c.config.Timeout,
		"poll_interval", c.config.PollInterval,
		"policy", c.config.Policy.String())
}

// StartLinking opens the popup and arms the watchers. It returns as soon as
// the watchers are armed; the outcome arrives through OnResult.
//
// A window the platform refuses to open yields an error matching
// ErrPopupBlocked and a StatusPopupBlocked result, without arming anything.
func (c *Coordinator) StartLinking() (Attempt, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return Attempt{}, ErrDisposed
	}
	var superseded *attempt
	if cur := c.current; cur != nil {
		if c.config.Policy == PolicyReject {
			snap := cur.snapshot()
			c.mu.Unlock()
			c.logger.Info("start rejected",
				"attempt_id", snap.ID,
				"state", StatusPending.String(),
				"policy", c.config.Policy.String(),
				"action", "start_rejected")
			return snap, ErrAttemptPending
		}
		superseded = c.detachLocked(cur, StatusCancelled, ReasonSuperseded)
	}
	c.mu.Unlock()

	if superseded != nil {
		c.finish(superseded)
	}

	url := c.platform.Origin() + c.config.Route
	geometry := CenteredGeometry(c.platform.Screen(), c.config.WindowSize)

	window, err := c.platform.OpenWindow(url, c.config.WindowName, geometry)
	if err != nil || window == nil {
		launchErr := &LaunchError{URL: url, Cause: err}
		now := c.platform.Now()
		res := Result{
			Status:    StatusPopupBlocked,
			Reason:    ReasonPopupBlocked,
			StartedAt: now,
			EndedAt:   now,
		}
		c.logger.Warn("popup blocked",
			"url", url,
			"error", err,
			"action", "launch_failed")
		c.notify(res)
		return Attempt{Status: StatusPopupBlocked, StartedAt: now}, launchErr
	}

	now := c.platform.Now()
	a := &attempt{
		id:        uuid.New().String(),
		status:    StatusPending,
		startedAt: now,
		deadline:  now.Add(c.config.Timeout),
		window:    window,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		_ = window.Close()
		return Attempt{}, ErrDisposed
	}
	c.current = a
	c.mu.Unlock()

	id := a.id
	unsubscribe := c.platform.Subscribe(func(msg Message) { c.handleMessage(id, msg) })
	poll := c.platform.Every(c.config.PollInterval, func() { c.checkClosed(id) })
	timeout := c.platform.AfterFunc(c.config.Timeout, func() { c.expire(id) })

	c.mu.Lock()
	if a.status != StatusPending {
		// Reconciled while arming; the teardown already ran without these.
		c.mu.Unlock()
		unsubscribe()
		poll.Stop()
		timeout.Stop()
		return a.snapshot(), nil
	}
	a.unsubscribe = unsubscribe
	a.poll = poll
	a.timeout = timeout
	snap := a.snapshot()
	c.mu.Unlock()

	c.logger.Info("linking started",
		"attempt_id", id,
		"url", url,
		"geometry", geometry.Features(),
		"timeout", c.config.Timeout,
		"poll_interval", c.config.PollInterval,
		"superseded", superseded != nil,
		"action", "window_opened")

	return snap, nil
}

// Reconcile resolves attempt id with outcome. It reports false, doing
// nothing, when id is not the pending attempt or outcome is not a terminal
// attempt status.
func (c *Coordinator) Reconcile(id string, outcome Status) bool {
	switch outcome {
	case StatusSucceeded:
		return c.reconcile(id, outcome, ReasonMessage)
	case StatusCancelled:
		return c.reconcile(id, outcome, ReasonAborted)
	case StatusTimedOut:
		return c.reconcile(id, outcome, ReasonDeadline)
	default:
		return false
	}
}

func (c *Coordinator) reconcile(id string, outcome Status, reason string) bool {
	c.mu.Lock()
	a := c.current
	if a == nil || a.id != id {
		c.mu.Unlock()
		c.logger.Debug("stale event ignored",
			"attempt_id", id,
			"outcome", outcome.String(),
			"reason", reason,
			"action", "noop")
		return false
	}
	c.detachLocked(a, outcome, reason)
	c.mu.Unlock()

	c.finish(a)
	return true
}

// detachLocked flips a to outcome and records it as finished.
// Caller must hold c.mu and call finish afterwards.
func (c *Coordinator) detachLocked(a *attempt, outcome Status, reason string) *attempt {
	a.status = outcome
	a.result = Result{
		AttemptID: a.id,
		Status:    outcome,
		Reason:    reason,
		StartedAt: a.startedAt,
		EndedAt:   c.platform.Now(),
	}
	if c.current == a {
		c.current = nil
	}
	if len(c.finished) == finishedKept {
		c.finished = append(c.finished[:0], c.finished[1:]...)
	}
	c.finished = append(c.finished, a)
	return a
}

// finish tears down a detached attempt and notifies the caller.
func (c *Coordinator) finish(a *attempt) {
	c.mu.Lock()
	unsubscribe, poll, timeout, window := a.unsubscribe, a.poll, a.timeout, a.window
	a.unsubscribe, a.poll, a.timeout, a.window = nil, nil, nil, nil
	res := a.result
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if poll != nil {
		poll.Stop()
	}
	if timeout != nil {
		timeout.Stop()
	}

	forced := false
	if window != nil && !window.Closed() {
		forced = true
		if err := window.Close(); err != nil {
			c.logger.Warn("window close failed",
				"attempt_id", res.AttemptID,
				"error", err)
		}
	}

	c.logger.Info("state transition",
		"attempt_id", res.AttemptID,
		"from_state", StatusPending.String(),
		"to_state", res.Status.String(),
		"reason", res.Reason,
		"window_closed_by_us", forced,
		"duration", res.Duration(),
		"action", "reconcile")

	close(a.done)
	c.notify(res)
}

func (c *Coordinator) notify(res Result) {
	if c.OnResult != nil {
		c.OnResult(res)
	}
	if res.Status == StatusSucceeded && c.OnSucceeded != nil {
		c.OnSucceeded(res)
	}
}

func (c *Coordinator) handleMessage(id string, msg Message) {
	c.mu.Lock()
	tags := c.config.SuccessTags
	c.mu.Unlock()

	origin := c.platform.Origin()
	if !sameOrigin(msg.Origin, origin) {
		c.logger.Debug("foreign message ignored",
			"attempt_id", id,
			"origin", msg.Origin)
		return
	}
	if !IsCompletion(msg, origin, tags) {
		c.logger.Debug("unrecognized message ignored",
			"attempt_id", id,
			"action", "invalid_message")
		return
	}
	c.reconcile(id, StatusSucceeded, ReasonMessage)
}

func (c *Coordinator) checkClosed(id string) {
	c.mu.Lock()
	a := c.current
	if a == nil || a.id != id || a.window == nil {
		c.mu.Unlock()
		return
	}
	window := a.window
	c.mu.Unlock()

	if window.Closed() {
		c.reconcile(id, StatusCancelled, ReasonWindowClosed)
	}
}

func (c *Coordinator) expire(id string) {
	c.reconcile(id, StatusTimedOut, ReasonDeadline)
}

// Abort cancels the pending attempt. It reports whether one was pending.
func (c *Coordinator) Abort() bool {
	c.mu.Lock()
	a := c.current
	c.mu.Unlock()
	if a == nil {
		return false
	}
	return c.reconcile(a.id, StatusCancelled, ReasonAborted)
}

// Dispose cancels any pending attempt and rejects further ones.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	a := c.current
	c.mu.Unlock()

	if a != nil {
		c.reconcile(a.id, StatusCancelled, ReasonDisposed)
	}
}

// IsLoading reports whether an attempt is pending.
func (c *Coordinator) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Current returns the pending attempt, if any.
func (c *Coordinator) Current() (Attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Attempt{}, false
	}
	return c.current.snapshot(), true
}

// LastResult returns the result of the most recently finished attempt.
func (c *Coordinator) LastResult() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.finished) == 0 {
		return Result{}, false
	}
	return c.finished[len(c.finished)-1].result, true
}

// Wait blocks until attempt id finishes or ctx is done. A superseded
// attempt resolves like any other, as long as it is among the last
// finishedKept attempts.
func (c *Coordinator) Wait(ctx context.Context, id string) (Result, error) {
	c.mu.Lock()
	a := c.lookupLocked(id)
	c.mu.Unlock()

	if a == nil {
		return Result{}, ErrUnknownAttempt
	}

	select {
	case <-a.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return a.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *Coordinator) lookupLocked(id string) *attempt {
	if c.current != nil && c.current.id == id {
		return c.current
	}
	for i := len(c.finished) - 1; i >= 0; i-- {
		if c.finished[i].id == id {
			return c.finished[i]
		}
	}
	return nil
}
