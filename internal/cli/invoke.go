package cli

import (
	"bytes"
	"encoding/json"

	"github.com/spf13/cobra"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	grpcadapter "bookflow/internal/adapters/grpc"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Addr  string
	Input string
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <step>",
		Short: "Invoke a saga step over gRPC",
		Long: `Invoke a saga step the way the orchestrator does.

Examples:
  sagactl invoke validate-input --input '{"correlationId":"c-1","customerId":"u-1","resourceId":"r-1","amount":1000,"currency":"usd"}'
  sagactl invoke payment --addr localhost:50051 --input @payment.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "localhost:50051", "gRPC address of the step service")
	cmd.Flags().StringVar(&opts.Input, "input", "{}", "step input JSON, or @file")

	return cmd
}

func runInvoke(opts *InvokeOptions, cmd *cobra.Command, step string) error {
	input := []byte(opts.Input)
	if len(input) > 0 && input[0] == '@' {
		data, err := readBody(string(input[1:]), cmd.InOrStdin())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read input", err)
		}
		input = data
	}
	if !json.Valid(input) {
		return NewExitError(ExitCommandError, "input is not valid JSON")
	}

	conn, err := grpcpkg.NewClient(opts.Addr, grpcpkg.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to dial "+opts.Addr, err)
	}
	defer conn.Close()

	ctx, cancel := opts.context()
	defer cancel()

	out, name, err := grpcadapter.NewClient(conn).Invoke(ctx, step, input)
	if err != nil {
		if name != "" {
			return NewExitError(ExitFailure, status.Convert(err).Message())
		}
		return WrapExitError(ExitCommandError, "invoke "+step, err)
	}

	if opts.Format == "json" {
		_, err = cmd.OutOrStdout().Write(append(out, '\n'))
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		return err
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(cmd.OutOrStdout())
	return err
}
