package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hookd/internal/hook"
)

const pollInterval = time.Second

// Source lists hooks with their current lock state.
type Source interface {
	FindAll(ctx context.Context) ([]*hook.Hook, error)
}

type hooksMsg []*hook.Hook

type errMsg error

type tickMsg time.Time

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	source      Source
	sourceName  string
	maxDuration time.Duration
	now         func() time.Time

	width  int
	height int

	hooks       []*hook.Hook
	summary     Summary
	fingerprint string
	table       table.Model

	ticker  Ticker
	spinner Spinner
	theme   Theme

	lastError string
}

// New creates a watch model polling source. maxDuration marks stale locks;
// sourceName is shown in the header.
func New(source Source, sourceName string, maxDuration time.Duration) *Model {
	return &Model{
		source:      source,
		sourceName:  sourceName,
		maxDuration: maxDuration,
		now:         time.Now,
		table:       newHookTable(),
		ticker:      NewTicker(),
		theme:       NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchHooks(m.source),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)
		if h := m.height - 12; h > 3 {
			m.table.SetHeight(h)
		}

	case hooksMsg:
		now := m.now()
		m.hooks = msg
		m.lastError = ""
		m.ticker.Tick()

		fp := lockFingerprint(m.hooks)
		if m.fingerprint != "" && fp != m.fingerprint {
			m.spinner.OnChange(now)
		}
		m.fingerprint = fp
		m.spinner.Decay(now)

		rows, sum := hookRows(m.hooks, now, m.maxDuration, m.theme)
		m.table.SetRows(rows)
		m.summary = sum
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case tickMsg:
		return m, fetchHooks(m.source)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := renderHeader(m.summary, m.sourceName, m.ticker, m.spinner, m.theme, m.width, m.now())
	hooksView := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Hooks"),
			m.table.View(),
		),
	)

	parts := []string{header, hooksView}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusStale.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Navigate"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func fetchHooks(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hooks, err := source.FindAll(ctx)
		if err != nil {
			return errMsg(err)
		}
		return hooksMsg(hooks)
	}
}
