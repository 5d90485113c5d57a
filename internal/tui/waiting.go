package tui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Display holds the terminal preferences that affect rendering.
type Display struct {
	NoColor      bool
	ReduceMotion bool
}

// DisplayFromEnv reads NO_COLOR, TERM=dumb, and the reduced-motion
// variables NEXUSLINK_REDUCED_MOTION and REDUCED_MOTION.
func DisplayFromEnv() Display {
	var d Display
	if _, set := os.LookupEnv("NO_COLOR"); set {
		d.NoColor = true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		d.NoColor = true
	}
	for _, key := range []string{"NEXUSLINK_REDUCED_MOTION", "REDUCED_MOTION"} {
		if on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil && on {
			d.ReduceMotion = true
		}
	}
	return d
}

// staticFrame replaces the animation under reduced motion.
const staticFrame = "[...]"

// waitIndicator is the line shown while the popup is open.
type waitIndicator struct {
	frames  spinner.Model
	label   string
	style   lipgloss.Style
	animate bool
}

func newWaitIndicator(label string, d Display) waitIndicator {
	frames := spinner.New(spinner.WithSpinner(spinner.Dot))
	style := lipgloss.NewStyle()
	if !d.NoColor {
		frames.Style = frames.Style.Foreground(spinnerColor)
		style = style.Foreground(spinnerColor)
	}
	return waitIndicator{
		frames:  frames,
		label:   label,
		style:   style,
		animate: !d.ReduceMotion,
	}
}

// tick starts the animation; nil when motion is reduced.
func (w waitIndicator) tick() tea.Cmd {
	if !w.animate {
		return nil
	}
	return w.frames.Tick
}

func (w waitIndicator) update(msg tea.Msg) (waitIndicator, tea.Cmd) {
	tick, ok := msg.(spinner.TickMsg)
	if !ok || !w.animate {
		return w, nil
	}
	var cmd tea.Cmd
	w.frames, cmd = w.frames.Update(tick)
	return w, cmd
}

func (w waitIndicator) view() string {
	frame := staticFrame
	if w.animate {
		frame = w.frames.View()
	}
	if w.label == "" {
		return frame
	}
	return frame + " " + w.style.Render(w.label)
}
