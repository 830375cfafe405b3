package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/service/ctl"
)

var (
	// reason explains a direct subsystem trigger.
	reason string
	// params holds key=value arguments of a direct subsystem trigger.
	params map[string]string

	errUnknownSystem = errors.New("unknown system")

	subsystemCmd = &cobra.Command{
		Use:   "subsystem",
		Short: "Operate a single subsystem outside any protocol.",
	}

	subsystemStatusCmd = &cobra.Command{
		Use:   "status <system>",
		Short: "Show the state of one subsystem.",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			system, err := parseSystem(args[0], true)
			if err != nil {
				return err
			}

			return session.Subsystem(ctx, system)
		}),
	}

	subsystemTriggerCmd = &cobra.Command{
		Use:   "trigger <system> [target]",
		Short: "Trigger one subsystem directly.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			system, err := parseSystem(args[0], true)
			if err != nil {
				return err
			}

			return session.Trigger(ctx, system, optionalArg(args, 1), reason, toPayload(params))
		}),
	}

	subsystemResetCmd = &cobra.Command{
		Use:   "reset <system> [target]",
		Short: "Reset one subsystem directly.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			system, err := parseSystem(args[0], true)
			if err != nil {
				return err
			}

			return session.Reset(ctx, system, optionalArg(args, 1))
		}),
	}

	subsystemTestCmd = &cobra.Command{
		Use:   "test <system>",
		Short: "Run the self-test of one subsystem.",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			system, err := parseSystem(args[0], true)
			if err != nil {
				return err
			}

			return session.Test(ctx, system)
		}),
	}
)

// parseSystem validates a system name; adapters only when adapterOnly is set.
func parseSystem(name string, adapterOnly bool) (safety.SystemType, error) {
	system, ok := safety.ParseSystemType(name)
	if !ok || (adapterOnly && system == safety.SystemSafetyManager) {
		return "", fmt.Errorf("%w %q", errUnknownSystem, name)
	}

	return system, nil
}

func optionalArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}

	return ""
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	subsystemTriggerCmd.Flags().StringVarP(&reason, "reason", "r", "", "reason or alarm type passed to the adapter")
	subsystemTriggerCmd.Flags().StringToStringVarP(&params, "param", "p", nil, "adapter arguments as key=value")

	subsystemCmd.AddCommand(subsystemStatusCmd, subsystemTriggerCmd, subsystemResetCmd, subsystemTestCmd)
	rootCmd.AddCommand(subsystemCmd)
}
