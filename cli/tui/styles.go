// Package tui provides Bubble Tea components for the burrow CLI.
//
// TUI rules:
//   - TUI is opt-in only (--tui flag)
//   - TUI is read-only (stats, inspect commands)
//   - TUI renders the same parsed container as non-TUI output
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(22)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// LiveStyle marks live allocations.
	LiveStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// LeakStyle marks leaked allocations.
	LeakStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// WarnStyle marks partial exports and drops.
	WarnStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// SelectedStyle highlights the cursor row.
	SelectedStyle = lipgloss.NewStyle().
			Foreground(highlightColor).
			Bold(true)

	// HelpStyle renders the key hints footer.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)
