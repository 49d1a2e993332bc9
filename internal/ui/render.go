package ui

import (
	"github.com/charmbracelet/glamour"
)

// RenderMarkdown pretty-prints markdown for TTY output. Non-TTY callers (and
// render failures) get the raw markdown so pipes stay machine-readable.
func RenderMarkdown(md string) string {
	if !IsTerminal() || !ShouldUseColor() {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(GetWidth()),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
