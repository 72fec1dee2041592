package changelog

import (
	"fmt"

	"github.com/charmbracelet/glamour"
)

// Preview renders changelog Markdown for a terminal of the given width.
func Preview(markdown string, width int) (string, error) {
	if markdown == "" {
		return "", nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("creating glamour renderer: %w", err)
	}
	return r.Render(markdown)
}
