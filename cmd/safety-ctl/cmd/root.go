package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/ship-safety/internal/config"
	"github.com/oshokin/ship-safety/internal/service/ctl"
	"github.com/oshokin/ship-safety/internal/version"
)

var (
	// configPath stores the configuration file path.
	configPath string
	// serverAddress overrides the server address from config.
	serverAddress string
	// timeout overrides the per-call timeout from config.
	timeout time.Duration
	// verbose enables informational logs.
	verbose bool

	// rootCmd represents the base command for operator actions.
	rootCmd = &cobra.Command{
		Use:   "safety-ctl",
		Short: "Operate the ship safety coordinator.",
		Long: `Sends operator commands to the ship safety server and prints the replies.

Every request carries the local user and hostname for the audit trail.
Server address and call timeout are loaded from the configuration file
unless overridden by flags.`,
		SilenceUsage: true,
	}
)

// Execute runs the safety-ctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withSession connects to the server, runs fn and closes the connection.
func withSession(fn func(ctx context.Context, session *ctl.Session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		session, err := ctl.Connect(ctx, &ctl.Options{
			ConfigPath:    configPath,
			ServerAddress: serverAddress,
			Timeout:       timeout,
			Output:        cmd.OutOrStdout(),
			Verbose:       verbose,
		})
		if err != nil {
			return err
		}

		defer func() {
			_ = session.Close()
		}()

		return fn(ctx, session, args)
	}
}

// toPayload converts flag pairs into an event payload.
func toPayload(pairs map[string]string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}

	payload := make(map[string]any, len(pairs))
	for key, value := range pairs {
		payload[key] = value
	}

	return payload
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+" when present)")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "s", "", "server address, overrides config")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 0, "per-call timeout, overrides config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log connection details")
}
