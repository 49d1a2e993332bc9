package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette shared by all styled output.
var (
	ColorPass   = lipgloss.Color("42")  // green
	ColorWarn   = lipgloss.Color("214") // orange
	ColorFail   = lipgloss.Color("196") // red
	ColorAccent = lipgloss.Color("39")  // blue
	ColorMuted  = lipgloss.Color("245") // gray
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
)

// RenderPass styles success text; plain text without color support.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles warning text.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail styles failure text.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderAccent styles identifiers and headings.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderMuted styles secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

func render(style lipgloss.Style, s string) string {
	if !ShouldUseColor() {
		return s
	}
	return style.Render(s)
}

// StatusBadge renders a WU status with its conventional color.
func StatusBadge(status string) string {
	switch status {
	case "done":
		return RenderPass(status)
	case "in_progress":
		return RenderAccent(status)
	case "blocked":
		return RenderWarn(status)
	case "ready":
		return RenderMuted(status)
	}
	return status
}
