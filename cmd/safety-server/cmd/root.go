package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/ship-safety/internal/config"
	"github.com/oshokin/ship-safety/internal/service/server"
	"github.com/oshokin/ship-safety/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile path where the ship snapshot is persisted.
	stateFile string
	// shipFile overrides the built-in ship layout.
	shipFile string
	// protocolsFile overrides the built-in protocol catalogue.
	protocolsFile string
	// allowParallel skips the single instance check.
	allowParallel bool

	// rootCmd represents the base command for running the safety server.
	rootCmd = &cobra.Command{
		Use:   "safety-server [listen-address]",
		Short: "Run the ship safety coordinator and its gRPC API.",
		Long: `Starts the ship safety coordinator with every subsystem adapter and serves the gRPC API.

Events from emergency stop, fire detection, CCTV, PA/GA, communication and
compliance are processed one at a time through the emergency protocol catalogue.
Listen address can be provided as argument to override config (e.g., :50051, 0.0.0.0:50051).
The ship snapshot is persisted to JSON and processed events are archived in SQLite.
On SIGINT or SIGTERM every subsystem is reset before the process exits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				StateFile:     stateFile,
				ShipFile:      shipFile,
				ProtocolsFile: protocolsFile,
				AllowParallel: allowParallel,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the safety-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+" when present)")
	rootCmd.Flags().StringVarP(&stateFile, "state-file", "s", "", "path to persist the ship snapshot")
	rootCmd.Flags().StringVar(&shipFile, "ship", "", "path to a ship layout YAML file")
	rootCmd.Flags().StringVar(&protocolsFile, "protocols", "", "path to a protocol catalogue YAML file")
	rootCmd.Flags().BoolVar(&allowParallel, "allow-parallel", false, "skip the single instance check")
}
