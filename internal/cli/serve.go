package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fitzbot/fitzbot/internal/botd"
	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/spf13/cobra"
)

var (
	serveHost     string
	servePort     int
	serveGRPCPort int
	serveNoAudio  bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "HTTP bind host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides server.port)")
	serveCmd.Flags().IntVar(&serveGRPCPort, "grpc-port", 0, "gRPC health port, 0 keeps server.grpc_port")
	serveCmd.Flags().BoolVar(&serveNoAudio, "mute", false, "start with sound and speech disabled")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot daemon",
	Long: `Run the bot: load the event map, watch it for changes and serve the
fire API, the overlay websocket and the gRPC health service until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveGRPCPort != 0 {
			cfg.Server.GRPCPort = serveGRPCPort
		}
		if serveNoAudio {
			cfg.Queue.AllowAudio = false
		}

		logger := logging.Component("botd")
		if used := configFileUsed(); used != "" {
			logger.Info().Str("config", used).Msg("using config file")
		}

		step := startProgress("Loading event map")
		daemon, err := botd.New(cfg, logger, botd.Options{
			Version:    version,
			ProjectDir: projectDir,
		})
		if err != nil {
			step.Fail(err)
			return err
		}
		step.Done()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return daemon.Run(ctx)
	},
}
