package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Summary counts hooks by lock status.
type Summary struct {
	Hooks  int
	Locked int
	Stale  int
}

func renderHeader(sum Summary, source string, ticker Ticker, spinner Spinner, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := fmt.Sprintf(" HOOKD WATCH %s", tickerStr)

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	stale := theme.Dim.Render("0 stale")
	if sum.Stale > 0 {
		stale = theme.StatusStale.Render(fmt.Sprintf("%d stale", sum.Stale))
	}
	statsLine := fmt.Sprintf(" Hooks: %d  Locked: %s  %s",
		sum.Hooks,
		theme.StatusLocked.Render(fmt.Sprint(sum.Locked)),
		stale,
	)

	lastChange := "never"
	if !spinner.LastChange().IsZero() {
		lastChange = fmt.Sprintf("%s ago", now.Sub(spinner.LastChange()).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last lock change: %s %s  %s",
		lastChange, spinner.Render(theme), theme.Dim.Render(source))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
