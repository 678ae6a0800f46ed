package cli

import (
	"os"

	"golang.org/x/term"
)

// IsNonInteractive reports whether output should stay plain: no styling and
// no progress lines.
func IsNonInteractive() bool {
	if nonInteractive {
		return true
	}
	if _, ok := os.LookupEnv("FITZBOT_NON_INTERACTIVE"); ok {
		return true
	}
	return !hasTTY()
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func stylesEnabled() bool {
	if jsonOutput {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return !IsNonInteractive()
}
