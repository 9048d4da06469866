package cmd

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	nameStyle   = lipgloss.NewStyle().Width(20)
)

// marker renders the [+] / [~] / [-] prefix for a line
func marker(kind string) string {
	switch kind {
	case "ok":
		return okStyle.Render("[+]")
	case "warn":
		return warnStyle.Render("[~]")
	case "skip":
		return mutedStyle.Render("[ ]")
	default:
		return failStyle.Render("[-]")
	}
}
