package cli

import (
	"github.com/spf13/cobra"

	"bookflow/internal/resilience"
)

type breakerStatus struct {
	Service string                  `json:"service"`
	State   resilience.BreakerState `json:"state"`
}

// NewBreakerCommand creates the breaker command group.
func NewBreakerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect or reset shared circuit breakers",
	}
	cmd.AddCommand(newBreakerStatusCommand(rootOpts))
	cmd.AddCommand(newBreakerResetCommand(rootOpts))
	return cmd
}

func newBreakerStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [service...]",
		Short: "Show breaker state (all known services by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			services := args
			if len(services) == 0 {
				services = []string{resilience.ServicePayments, resilience.ServiceBooking, resilience.ServiceOrchestrator}
			}

			client, err := opts.redis()
			if err != nil {
				return err
			}
			defer client.Close()
			store := resilience.NewRedisBreakerStore(client, opts.BreakerPrefix)

			ctx, cancel := opts.context()
			defer cancel()

			statuses := make([]breakerStatus, 0, len(services))
			fields := make([]field, 0, len(services))
			for _, service := range services {
				state, err := store.State(ctx, service)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read breaker "+service, err)
				}
				statuses = append(statuses, breakerStatus{Service: service, State: state})
				fields = append(fields, field{service, state})
			}
			return printer{format: opts.Format, w: cmd.OutOrStdout()}.print(statuses, fields...)
		},
	}
}

func newBreakerResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <service>",
		Short: "Close a breaker immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.redis()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := opts.context()
			defer cancel()

			service := args[0]
			if err := resilience.NewRedisBreakerStore(client, opts.BreakerPrefix).Reset(ctx, service); err != nil {
				return WrapExitError(ExitCommandError, "failed to reset breaker "+service, err)
			}
			status := breakerStatus{Service: service, State: resilience.BreakerClosed}
			return printer{format: opts.Format, w: cmd.OutOrStdout()}.print(status, field{service, status.State})
		},
	}
}
