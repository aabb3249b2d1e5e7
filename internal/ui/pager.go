// Package ui holds the CLI's presentation layer: colorized disassembly
// (internal/ui/colorize) and, here, a scrollable bubbletea pager for
// the `trace --interactive` subcommand, generalized from the teacher's
// own buffered stdout writer into a real TUI view over the same lines.
package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var footerStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")).
	Padding(0, 1)

// TracePager is a bubbletea model that scrolls a precomputed list of
// already-colorized trace lines. Like the CLI's plain mode, the pager
// is handed the whole run's output at once: the trace command has
// finished the run before Run starts the pager, so there is no
// streaming concern here.
type TracePager struct {
	vp     viewport.Model
	lines  []string
	header string
	ready  bool
}

// NewTracePager builds a pager over lines, shown below a one-line
// header (the trace command passes the tool name and the binary path).
func NewTracePager(header string, lines []string) TracePager {
	return TracePager{header: header, lines: lines}
}

func (m TracePager) Init() tea.Cmd { return nil }

func (m TracePager) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.header) + 1
		footerHeight := lipgloss.Height(m.footerView())
		vpHeight := msg.Height - headerHeight - footerHeight
		if !m.ready {
			m.vp = viewport.New(msg.Width, vpHeight)
			m.vp.SetContent(strings.Join(m.lines, "\n"))
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = vpHeight
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m TracePager) View() string {
	if !m.ready {
		return "initializing..."
	}
	return m.header + "\n" + m.vp.View() + "\n" + m.footerView()
}

func (m TracePager) footerView() string {
	pct := 100
	if m.vp.TotalLineCount() > 0 {
		pct = int(m.vp.ScrollPercent() * 100)
	}
	return footerStyle.Render("↑/↓ scroll · q quit    " +
		lipgloss.NewStyle().Bold(true).Render(strconv.Itoa(pct)+"%"))
}

// Run starts the pager program and blocks until the user quits.
func Run(header string, lines []string) error {
	p := tea.NewProgram(NewTracePager(header, lines), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
