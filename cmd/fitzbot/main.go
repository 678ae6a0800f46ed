// Command fitzbot runs the stream bot.
package main

import (
	"fmt"
	"os"

	"github.com/fitzbot/fitzbot/internal/cli"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cli.SetVersion(version, commit)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(err))
		os.Exit(1)
	}
}
