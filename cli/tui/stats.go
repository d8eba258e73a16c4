package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/burrow/binfmt"
)

// statsKeys are the key bindings for the stats view.
type statsKeys struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

func defaultStatsKeys() statsKeys {
	return statsKeys{
		Quit: key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
		Up:   key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll up")),
		Down: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll down")),
	}
}

// StatsModel is a Bubble Tea model rendering container summary stats:
// header totals, drop accounting, and the hottest call sites.
type StatsModel struct {
	source    string
	container *binfmt.Container
	keys      statsKeys
	offset    int
	height    int
}

// NewStatsModel creates a stats model over a parsed container.
func NewStatsModel(source string, c *binfmt.Container) StatsModel {
	return StatsModel{
		source:    source,
		container: c,
		keys:      defaultStatsKeys(),
		height:    24,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.offset > 0 {
				m.offset--
			}
		case key.Matches(msg, m.keys.Down):
			if m.offset < len(m.container.Payload.Frequency)-1 {
				m.offset++
			}
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	var b strings.Builder
	hdr := m.container.Header

	b.WriteString(TitleStyle.Render("burrow profile — " + m.source))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(LabelStyle.Render(label))
		b.WriteString(ValueStyle.Render(value))
		b.WriteString("\n")
	}

	row("total events", fmt.Sprintf("%d", hdr.TotalEvents))
	row("kept events", fmt.Sprintf("%d", len(m.container.Payload.Events)))
	if hdr.TotalDropped > 0 {
		b.WriteString(LabelStyle.Render("dropped"))
		b.WriteString(WarnStyle.Render(fmt.Sprintf("%d", hdr.TotalDropped)))
		b.WriteString("\n")
	} else {
		row("dropped", "0")
	}
	row("tracked variables", fmt.Sprintf("%d", len(m.container.Payload.Registry)))
	row("call sites", fmt.Sprintf("%d", len(m.container.Payload.Frequency)))
	if hdr.HasFlag(binfmt.FlagPartialExport) {
		b.WriteString(WarnStyle.Render("partial export — some producers missing"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(TitleStyle.Render("call sites by frequency"))
	b.WriteString("\n")

	sites := m.container.Payload.Frequency
	visible := m.height - 14
	if visible < 3 {
		visible = 3
	}
	for i := m.offset; i < len(sites) && i < m.offset+visible; i++ {
		s := sites[i]
		name := s.RepresentativeName
		if name == "" {
			name = fmt.Sprintf("site 0x%x", s.Fingerprint)
		}
		line := fmt.Sprintf("%-24s %8d calls %12d bytes  %s", name, s.Count, s.TotalBytes, s.RepresentativeType)
		if i == m.offset {
			b.WriteString(SelectedStyle.Render(line))
		} else {
			b.WriteString(ValueStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render("↑/↓ scroll · q quit"))
	return b.String()
}

// RunStats starts the stats TUI over a parsed container.
func RunStats(source string, c *binfmt.Container) error {
	_, err := tea.NewProgram(NewStatsModel(source, c)).Run()
	return err
}
