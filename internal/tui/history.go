package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/nexuslearn/nexuslink/internal/history"
)

// RenderHistory formats attempt history as a table no wider than width.
// A width of zero or less leaves lines untruncated.
func RenderHistory(entries []history.Entry, width int, plain bool) string {
	if len(entries) == 0 {
		return "No linking attempts recorded.\n"
	}

	header := fmt.Sprintf("%-19s  %-13s  %-13s  %8s  %s", "ENDED", "STATUS", "REASON", "DURATION", "ATTEMPT")
	if !plain {
		header = lipgloss.NewStyle().Bold(true).Foreground(colorPurple).Render(header)
	}

	var b strings.Builder
	b.WriteString(fit(header, width))
	b.WriteString("\n")

	for _, e := range entries {
		status := fmt.Sprintf("%-13s", e.StatusName)
		if !plain {
			status = lipgloss.NewStyle().Foreground(statusColor(e.StatusName)).Render(status)
		}
		line := fmt.Sprintf("%-19s  %s  %-13s  %8s  %s",
			e.EndedAt.Local().Format("2006-01-02 15:04:05"),
			status,
			e.Reason,
			formatDuration(e.Duration),
			shortID(e.AttemptID))
		b.WriteString(fit(line, width))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderStats formats history totals on one line.
func RenderStats(stats history.Stats) string {
	var parts []string
	for _, name := range []string{"SUCCEEDED", "CANCELLED", "TIMED_OUT", "POPUP_BLOCKED"} {
		for status, n := range stats.ByStatus {
			if status.String() == name && n > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", strings.ToLower(name), n))
			}
		}
	}
	line := fmt.Sprintf("%d attempts", stats.Total)
	if len(parts) > 0 {
		line += " (" + strings.Join(parts, ", ") + ")"
	}
	if !stats.LastSuccess.IsZero() {
		line += ", last linked " + stats.LastSuccess.Local().Format("2006-01-02 15:04")
	}
	return line
}

func fit(line string, width int) string {
	if width <= 0 || ansi.StringWidth(line) <= width {
		return line
	}
	return ansi.Truncate(line, width, "…")
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
