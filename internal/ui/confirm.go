package ui

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

// Confirm asks a yes/no question before a destructive action. Non-interactive
// callers (CI, pipes) get the default without blocking.
func Confirm(title, description string, defaultYes bool) bool {
	if !IsTerminal() {
		fmt.Printf("%s (non-interactive, defaulting to %t)\n", title, defaultYes)
		return defaultYes
	}
	answer := defaultYes
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&answer),
		),
	)
	if err := form.Run(); err != nil {
		return defaultYes
	}
	return answer
}
