package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/lanscope/internal/model"
)

var (
	// Colors
	Primary   = lipgloss.Color("205")
	Secondary = lipgloss.Color("86")
	Subtle    = lipgloss.Color("241")
	Success   = lipgloss.Color("46")
	Warning   = lipgloss.Color("214")
	Error     = lipgloss.Color("196")

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(Primary).
			Padding(0, 2).
			Align(lipgloss.Center)

	SectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Subtle).
			Padding(0, 1)

	FocusedSectionStyle = SectionStyle.
				BorderForeground(Primary)

	SectionTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Subtle).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(Subtle).
			Italic(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(Subtle).
			MarginTop(1)

	LoadingStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Padding(2, 4)
)

// tableStyles are the bubbles table styles in the dashboard palette.
func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(Subtle).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("15")).
		Background(Primary).
		Bold(false)
	return s
}

// RenderStatus returns a styled status indicator.
func RenderStatus(ok bool, okText, failText string) string {
	if ok {
		return SuccessStyle.Render("✓ " + okText)
	}
	return ErrorStyle.Render("✗ " + failText)
}

// RenderBar renders value against limit as a fixed-width bar.
func RenderBar(value, limit float64, width int) string {
	if limit <= 0 {
		limit = 1
	}
	filled := int(value / limit * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return lipgloss.NewStyle().Foreground(Secondary).Render(bar)
}

// QualityTag is the short label shown next to every traffic row.
func QualityTag(q model.DataQuality) string {
	switch q {
	case model.QualityEstimated:
		return "est"
	case model.QualityConnectionOnly:
		return "conn"
	case model.QualityUnavailable:
		return "n/a"
	default:
		return "?"
	}
}

// renderQuality colours the tick quality for the status line.
func renderQuality(q model.DataQuality) string {
	switch q {
	case model.QualityEstimated:
		return SuccessStyle.Render(string(q))
	case model.QualityConnectionOnly:
		return WarningStyle.Render(string(q))
	case model.QualityUnavailable:
		return ErrorStyle.Render(string(q))
	default:
		return DimStyle.Render("waiting")
	}
}
