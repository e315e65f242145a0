package output

import "github.com/charmbracelet/lipgloss"

// ANSI 256 palette shared by the pretty formatter and the watch view.
const (
	ColorPrimary = lipgloss.Color("39")
	ColorSuccess = lipgloss.Color("42")
	ColorWarning = lipgloss.Color("214")
	ColorDanger  = lipgloss.Color("196")
	ColorInfo    = lipgloss.Color("111")
	ColorMuted   = lipgloss.Color("245")
)

// Boxes.
var (
	HeaderBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 1).
			MarginBottom(1)

	FooterBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1).
			MarginTop(1)
)

// Text.
var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	LabelStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	ValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	PathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorDanger)
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorInfo)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	CodeStyle    = lipgloss.NewStyle().Foreground(ColorPrimary)
)

// SeverityStyle returns the text style for a diagnostic severity.
func SeverityStyle(sev string) lipgloss.Style {
	switch sev {
	case "error":
		return ErrorStyle
	case "warning":
		return WarningStyle
	case "info":
		return InfoStyle
	default:
		return MutedStyle
	}
}
