package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/burrow/binfmt"
	"github.com/pithecene-io/burrow/types"
)

// inspectKeys are the key bindings for the inspect view.
type inspectKeys struct {
	Quit   key.Binding
	Up     key.Binding
	Down   key.Binding
	Toggle key.Binding
}

func defaultInspectKeys() inspectKeys {
	return inspectKeys{
		Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
		Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "previous")),
		Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next")),
		Toggle: key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "live only")),
	}
}

// InspectModel is a Bubble Tea model browsing the variable registry of
// a parsed container.
type InspectModel struct {
	source  string
	records []types.AllocationInfo
	keys    inspectKeys

	cursor   int
	liveOnly bool
	height   int
}

// NewInspectModel creates an inspect model over a parsed container.
func NewInspectModel(source string, c *binfmt.Container) InspectModel {
	return InspectModel{
		source:  source,
		records: c.Payload.Registry,
		keys:    defaultInspectKeys(),
		height:  24,
	}
}

func (m *InspectModel) visibleRecords() []types.AllocationInfo {
	if !m.liveOnly {
		return m.records
	}
	out := make([]types.AllocationInfo, 0, len(m.records))
	for _, r := range m.records {
		if r.Live() {
			out = append(out, r)
		}
	}
	return out
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.visibleRecords())-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Toggle):
			m.liveOnly = !m.liveOnly
			m.cursor = 0
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	var b strings.Builder

	title := "variable registry — " + m.source
	if m.liveOnly {
		title += " (live only)"
	}
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n")

	records := m.visibleRecords()
	if len(records) == 0 {
		b.WriteString(ValueStyle.Render("no records"))
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("l toggle live · q quit"))
		return b.String()
	}

	visible := m.height - 10
	if visible < 5 {
		visible = 5
	}
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}

	for i := start; i < len(records) && i < start+visible; i++ {
		r := records[i]
		state := LiveStyle.Render("live")
		if !r.Live() {
			state = ValueStyle.Render("freed")
		}
		if r.IsLeaked {
			state = LeakStyle.Render("leak")
		}
		name := r.VariableName
		if name == "" {
			name = "(unnamed)"
		}
		line := fmt.Sprintf("0x%-12x %-20s %-24s %8d B  %s", r.Ptr, name, r.TypeName, r.Size, state)
		if i == m.cursor {
			b.WriteString(SelectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	// Detail pane for the selected record.
	sel := records[m.cursor]
	b.WriteString("\n")
	detail := func(label, value string) {
		b.WriteString(LabelStyle.Render(label))
		b.WriteString(ValueStyle.Render(value))
		b.WriteString("\n")
	}
	detail("allocated_at", fmt.Sprintf("%d", sel.AllocatedAt))
	if sel.FreedAt != nil {
		detail("freed_at", fmt.Sprintf("%d", *sel.FreedAt))
	}
	if sel.ScopeID != nil {
		detail("scope", fmt.Sprintf("%d", *sel.ScopeID))
	}
	if sel.Borrow != nil {
		detail("borrows", fmt.Sprintf("%d immutable, %d mutable, max %d concurrent",
			sel.Borrow.ImmutableCount, sel.Borrow.MutableCount, sel.Borrow.MaxConcurrent))
	}
	if sel.Clone != nil {
		detail("clones", fmt.Sprintf("%d derived, source 0x%x", sel.Clone.CloneCount, sel.Clone.SourcePtr))
	}
	if sel.Passport != nil {
		b.WriteString(LabelStyle.Render("passport"))
		b.WriteString(WarnStyle.Render(fmt.Sprintf("%s (%s)", sel.Passport.Boundary, sel.Passport.Direction)))
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render("↑/↓ select · l toggle live · q quit"))
	return b.String()
}

// RunInspect starts the inspect TUI over a parsed container.
func RunInspect(source string, c *binfmt.Container) error {
	_, err := tea.NewProgram(NewInspectModel(source, c)).Run()
	return err
}
