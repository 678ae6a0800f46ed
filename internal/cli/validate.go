package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/fitzbot/fitzbot/internal/botd"
	"github.com/fitzbot/fitzbot/internal/config"
	"github.com/fitzbot/fitzbot/internal/eventmap"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and compile the event map",
	Long:  "Load the event map with all imports, report every document touched and fail on the first error.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), GetConfig(), projectDir)
	},
}

type validateResult struct {
	Valid   bool     `json:"valid"`
	Events  string   `json:"events"`
	Globals string   `json:"globals,omitempty"`
	Count   int      `json:"count"`
	Files   []string `json:"files"`
	Error   string   `json:"error,omitempty"`
}

func runValidate(out io.Writer, cfg *config.Config, dir string) error {
	eventsPath, globalsPath, err := botd.ResolveEventMap(cfg.Events, dir)
	if err != nil {
		return err
	}

	result := validateResult{Events: eventsPath, Globals: globalsPath}
	snapshot, loadErr := eventmap.Load(eventsPath, globalsPath)
	if loadErr != nil {
		result.Error = loadErr.Error()
		var le *eventmap.LoadError
		if errors.As(loadErr, &le) {
			result.Files = le.Files
		}
	} else {
		result.Valid = true
		result.Count = len(snapshot.Events)
		result.Files = snapshot.Files
	}

	if IsJSONOutput() {
		if err := writeJSON(out, result); err != nil {
			return err
		}
		return loadErr
	}

	for _, file := range result.Files {
		fmt.Fprintf(out, "  %s\n", render(styleMuted, file))
	}
	if loadErr != nil {
		fmt.Fprintln(out, formatStatusLabel(false, loadErr.Error()))
		return loadErr
	}
	fmt.Fprintln(out, formatStatusLabel(true, fmt.Sprintf("%d events from %d documents", result.Count, len(result.Files))))
	return nil
}
