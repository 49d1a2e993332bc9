package ui

import (
	"encoding/json"
	"fmt"
	"os"
)

// PrintJSON writes v as indented JSON to stdout. Used by every command's
// --json mode so scripts get one stable shape per command.
func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Errorf prints a styled error line to stderr.
func Errorf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, RenderFail("Error: ")+fmt.Sprintf(format, args...))
}

// Warnf prints a styled warning line to stderr.
func Warnf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, RenderWarn("Warning: ")+fmt.Sprintf(format, args...))
}
