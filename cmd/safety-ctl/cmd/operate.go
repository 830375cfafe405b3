package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/ship-safety/internal/coordinator"
	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/service/ctl"
)

var (
	// operationParams holds key=value arguments of a subsystem operation.
	operationParams map[string]string
	// announcementDuration overrides the configured announcement length.
	announcementDuration time.Duration

	subsystemOperateCmd = &cobra.Command{
		Use:   "operate <system> <operation>",
		Short: "Run a named operation on one subsystem.",
		Example: "  safety-ctl subsystem operate cctv control_ptz -p camera_id=CAM001 -p pan=45\n" +
			"  safety-ctl subsystem operate fire_detection set_detector_fault -p detector_id=FD-GL-001",
		Args: cobra.ExactArgs(2),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			system, err := parseSystem(args[0], true)
			if err != nil {
				return err
			}

			return session.Operate(ctx, system, args[1], toPayload(operationParams))
		}),
	}

	subsystemOperationsCmd = &cobra.Command{
		Use:   "operations",
		Short: "List the operations each subsystem accepts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := coordinator.Operations()

			for _, system := range safety.Subsystems() {
				names, ok := table[system]
				if !ok {
					continue
				}

				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", system, strings.Join(names, ", ")); err != nil {
					return err
				}
			}

			return nil
		},
	}

	announceCmd = &cobra.Command{
		Use:   "announce <message> [zone...]",
		Short: "Play a voice announcement, ship-wide without zones.",
		Args:  cobra.MinimumNArgs(1),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			params := map[string]any{"message": args[0]}
			if len(args) > 1 {
				params["zones"] = strings.Join(args[1:], ",")
			}

			if announcementDuration > 0 {
				params["duration"] = announcementDuration.String()
			}

			return session.Operate(ctx, safety.SystemPAGA, coordinator.OpAnnounce, params)
		}),
	}

	restartCmd = &cobra.Command{
		Use:   "restart <zone> <machine>",
		Short: "Restart critical machinery left stopped by an emergency stop reset.",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			return session.Operate(ctx, safety.SystemEmergencyStop, coordinator.OpRestartMachinery, map[string]any{
				"zone":    args[0],
				"machine": args[1],
			})
		}),
	}

	proceduresCmd = &cobra.Command{
		Use:   "procedures",
		Short: "Show emergency procedures and contacts.",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, session *ctl.Session, _ []string) error {
			return session.Procedures(ctx)
		}),
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	subsystemOperateCmd.Flags().StringToStringVarP(&operationParams, "param", "p", nil, "operation arguments as key=value")
	announceCmd.Flags().DurationVarP(&announcementDuration, "duration", "d", 0, "announcement length, configured default when zero")

	subsystemCmd.AddCommand(subsystemOperateCmd, subsystemOperationsCmd)
	rootCmd.AddCommand(announceCmd, restartCmd, proceduresCmd)
}
