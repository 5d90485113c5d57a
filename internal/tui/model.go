// Package tui provides the terminal view for account linking.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

// Linker is the coordinator surface the view drives.
type Linker interface {
	StartLinking() (popup.Attempt, error)
	Abort() bool
}

// viewState represents the current phase of the view.
type viewState int

const (
	stateStarting viewState = iota
	stateLinking
	stateDone
)

// ResultMsg carries a terminal result from the coordinator into the
// program. Send it from the coordinator's OnResult callback.
type ResultMsg struct {
	Result popup.Result
}

type startedMsg struct {
	attempt popup.Attempt
	err     error
}

type countdownMsg time.Time

// Options configures the link view.
type Options struct {
	// Provider is shown in the header.
	Provider string
	// ExitOnSuccess quits the program once the account is linked.
	ExitOnSuccess bool
	// Plain disables colors and animation.
	Plain bool
	// Now is the clock used for the deadline countdown.
	Now func() time.Time
}

// Model is the Bubble Tea model for one linking session.
type Model struct {
	linker  Linker
	opts    Options
	keys    keyMap
	styles  Styles
	spinner waitIndicator

	state   viewState
	attempt popup.Attempt
	result  *popup.Result
	err     error
	tries   int
	width   int
}

// New creates a link view driving linker.
func New(linker Linker, opts Options) Model {
	if opts.Provider == "" {
		opts.Provider = "Google"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	display := DisplayFromEnv()
	if opts.Plain {
		display = Display{NoColor: true, ReduceMotion: true}
	}
	styles := DefaultStyles()
	if display.NoColor {
		styles = PlainStyles()
	}

	return Model{
		linker:  linker,
		opts:    opts,
		keys:    defaultKeyMap(),
		styles:  styles,
		spinner: newWaitIndicator("Waiting for sign-in in the popup window...", display),
		state:   stateStarting,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.start(), m.spinner.tick(), m.countdown())
}

func (m Model) start() tea.Cmd {
	linker := m.linker
	return func() tea.Msg {
		a, err := linker.StartLinking()
		return startedMsg{attempt: a, err: err}
	}
}

// abort runs off the event loop: the coordinator reports the result
// through OnResult, which sends back into the program.
func (m Model) abort() tea.Cmd {
	linker := m.linker
	return func() tea.Msg {
		linker.Abort()
		return nil
	}
}

func (m Model) countdown() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return countdownMsg(t) })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case startedMsg:
		return m.handleStarted(msg)

	case ResultMsg:
		return m.handleResult(msg.Result)

	case countdownMsg:
		if m.state == stateDone {
			return m, nil
		}
		return m, m.countdown()
	}

	if m.state != stateDone {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.state != stateDone {
			return m, tea.Sequence(m.abort(), tea.Quit)
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Abort):
		if m.state == stateLinking {
			return m, m.abort()
		}
		return m, nil

	case key.Matches(msg, m.keys.Retry):
		if m.state == stateDone && m.result != nil && m.result.Status.Retryable() {
			m.state = stateStarting
			m.attempt = popup.Attempt{}
			m.result = nil
			m.err = nil
			return m, tea.Batch(m.start(), m.spinner.tick(), m.countdown())
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleStarted(msg startedMsg) (tea.Model, tea.Cmd) {
	m.tries++
	if msg.err != nil {
		m.err = msg.err
		if errors.Is(msg.err, popup.ErrAttemptPending) {
			// Another attempt owns the window; follow it.
			m.attempt = msg.attempt
			m.state = stateLinking
			return m, nil
		}
		if m.result == nil {
			res := popup.Result{Status: popup.StatusPopupBlocked, Reason: popup.ReasonPopupBlocked}
			if !errors.Is(msg.err, popup.ErrPopupBlocked) {
				res.Status = popup.StatusCancelled
				res.Reason = msg.err.Error()
			}
			m.result = &res
		}
		m.state = stateDone
		return m, nil
	}

	m.attempt = msg.attempt
	if m.result != nil && m.result.AttemptID == msg.attempt.ID {
		// Resolved before the start returned.
		m.state = stateDone
		return m, m.afterResult()
	}
	m.state = stateLinking
	return m, nil
}

func (m Model) handleResult(res popup.Result) (tea.Model, tea.Cmd) {
	if m.attempt.ID != "" && res.AttemptID != "" && res.AttemptID != m.attempt.ID {
		return m, nil
	}
	if m.state == stateDone && m.result != nil {
		return m, nil
	}
	m.result = &res
	if m.state == stateStarting && res.AttemptID != "" {
		// Start has not returned yet; handleStarted finishes the transition.
		return m, nil
	}
	m.state = stateDone
	return m, m.afterResult()
}

func (m Model) afterResult() tea.Cmd {
	if m.opts.ExitOnSuccess && m.result != nil && m.result.Status == popup.StatusSucceeded {
		return tea.Quit
	}
	return nil
}

// Result returns the final result, if the attempt has finished.
func (m Model) Result() (popup.Result, bool) {
	if m.result == nil || m.state != stateDone {
		return popup.Result{}, false
	}
	return *m.result, true
}

// Attempts returns how many attempts were started.
func (m Model) Attempts() int {
	return m.tries
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Header.Render("Link your " + m.opts.Provider + " account"))
	b.WriteString("\n")

	switch m.state {
	case stateStarting:
		b.WriteString(m.styles.Muted.Render("Opening the sign-in window..."))
		b.WriteString("\n\n")
		b.WriteString(m.help(m.keys.Quit))
	case stateLinking:
		b.WriteString(m.spinner.view())
		b.WriteString("\n")
		if !m.attempt.Deadline.IsZero() {
			remaining := m.attempt.Deadline.Sub(m.opts.Now()).Round(time.Second)
			if remaining < 0 {
				remaining = 0
			}
			b.WriteString(m.styles.Muted.Render(fmt.Sprintf("The window closes automatically in %s.", remaining)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(m.help(m.keys.Abort, m.keys.Quit))
	case stateDone:
		b.WriteString(m.outcome())
		b.WriteString("\n\n")
		if m.result != nil && m.result.Status.Retryable() {
			b.WriteString(m.help(m.keys.Retry, m.keys.Quit))
		} else {
			b.WriteString(m.help(m.keys.Quit))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) outcome() string {
	if m.result == nil {
		return ""
	}
	res := *m.result
	switch res.Status {
	case popup.StatusSucceeded:
		return m.styles.Success.Render("✓ Account linked.") + "\n" +
			m.styles.Muted.Render("Your data will be reloaded.")
	case popup.StatusCancelled:
		line := m.styles.Warning.Render("Sign-in cancelled.")
		switch res.Reason {
		case popup.ReasonWindowClosed:
			line += "\n" + m.styles.Muted.Render("The sign-in window was closed before finishing.")
		case popup.ReasonSuperseded:
			line += "\n" + m.styles.Muted.Render("A newer sign-in replaced this one.")
		case popup.ReasonAborted, popup.ReasonDisposed:
		default:
			line += "\n" + m.styles.Muted.Render(res.Reason)
		}
		return line
	case popup.StatusTimedOut:
		return m.styles.Error.Render("Sign-in timed out.") + "\n" +
			m.styles.Muted.Render("The window was closed after waiting too long.")
	case popup.StatusPopupBlocked:
		return m.styles.Error.Render("The sign-in window could not be opened.") + "\n" +
			m.styles.Muted.Render("Allow popups for this site, then try again.")
	default:
		return res.Status.String()
	}
}

func (m Model) help(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, k := range bindings {
		h := k.Help()
		parts = append(parts, m.styles.HelpKey.Render(h.Key)+" "+m.styles.HelpText.Render(h.Desc))
	}
	return strings.Join(parts, m.styles.HelpText.Render(" • "))
}
