package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if IsJSONOutput() {
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"version": version,
				"commit":  commit,
				"go":      runtime.Version(),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "fitzbot %s (%s, %s)\n", version, commit, runtime.Version())
		return nil
	},
}
