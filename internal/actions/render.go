package actions

import (
	"fmt"

	"github.com/cbroglie/mustache"
)

// Render expands {{field}} references against fields. Output is not HTML
// escaped; it targets chat and speech. Missing fields render empty.
func Render(text string, fields map[string]any) (string, error) {
	if text == "" {
		return "", nil
	}
	tmpl, err := mustache.ParseStringRaw(text, true)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", text, err)
	}
	out, err := tmpl.Render(fields)
	if err != nil {
		return "", fmt.Errorf("render template %q: %w", text, err)
	}
	return out, nil
}
