// Package cli implements the fitzbot command line.
package cli

import (
	"encoding/json"
	"io"

	"github.com/fitzbot/fitzbot/internal/config"
	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile        string
	projectDir     string
	jsonOutput     bool
	logLevel       string
	logFormat      string
	nonInteractive bool
	noProgress     bool

	appConfig *config.Config
	appViper  *viper.Viper

	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "fitzbot",
	Short: "Stream bot action queue",
	Long: `fitzbot maps stream events (bits, follows, chat, payments) to sequences
of actions: sounds, lights, chat lines, speech, overlay messages and
variables. Actions run strictly one at a time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: .fitzbot/config.yaml or ~/.config/fitzbot/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", ".", "project directory searched for .fitzbot/events.yaml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging format (console, json, auto)")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "never use terminal styling or progress output")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable progress output")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v, c string) {
	version = v
	commit = c
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// FormatError renders a command error for stderr.
func FormatError(err error) string {
	return render(styleError, "error:") + " " + err.Error()
}

func initConfig() error {
	cfg, v, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	appConfig = cfg
	appViper = v
	return nil
}

// GetConfig returns the loaded configuration, or the defaults before
// initConfig has run.
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// IsJSONOutput reports whether --json was given.
func IsJSONOutput() bool {
	return jsonOutput
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func configFileUsed() string {
	if appViper == nil {
		return ""
	}
	return appViper.ConfigFileUsed()
}
