package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hookd/internal/hook"
)

func newHookTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Hook", Width: 24},
			{Title: "Type", Width: 8},
			{Title: "Event", Width: 16},
			{Title: "Node", Width: 8},
			{Title: "Held", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// hookRows renders one row per hook. A lock held longer than maxDuration is
// shown as stale: the next acquire or sweep will reclaim it.
func hookRows(hooks []*hook.Hook, now time.Time, maxDuration time.Duration, theme Theme) ([]table.Row, Summary) {
	sum := Summary{Hooks: len(hooks)}
	rows := make([]table.Row, 0, len(hooks))

	for _, h := range hooks {
		status := theme.StatusFree.Render("○")
		event, node, held := "-", "-", "-"

		if h.Lock.Locked() {
			sum.Locked++
			d := h.Lock.HeldFor(now)
			held = formatDuration(d)
			event = string(h.Lock.Event)
			if h.Lock.Node != nil {
				node = fmt.Sprint(*h.Lock.Node)
			}
			status = theme.StatusLocked.Render("◉")
			if maxDuration > 0 && d > maxDuration {
				sum.Stale++
				status = theme.StatusStale.Render("◑")
			}
		}

		rows = append(rows, table.Row{status, h.Name, h.Type, event, node, held})
	}
	return rows, sum
}

// lockFingerprint changes whenever any hook's lock changes.
func lockFingerprint(hooks []*hook.Hook) string {
	var b strings.Builder
	for _, h := range hooks {
		b.WriteString(h.Name)
		if h.Lock.Locked() {
			b.WriteString("@")
			b.WriteString(h.Lock.Time.UTC().Format(time.RFC3339Nano))
		}
		b.WriteString(";")
	}
	return b.String()
}
