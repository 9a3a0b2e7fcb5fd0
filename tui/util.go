package tui

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// ensureReset ensures that the string ends with a terminal reset sequence.
// This prevents color bleeding from truncated output or output that leaves colors open.
func ensureReset(s string) string {
	if s == "" || strings.HasSuffix(s, "\033[0m") {
		return s
	}
	return s + "\033[0m"
}

// truncateLine truncates a line to width printable cells, keeping escape sequences intact.
func truncateLine(line string, width int) string {
	if width <= 0 {
		return ""
	}
	return ansi.Truncate(line, width, "")
}
