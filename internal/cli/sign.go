package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bookflow/internal/secrets"
	"bookflow/internal/webhook"
)

// SignOptions holds flags for the sign command.
type SignOptions struct {
	*RootOptions
	Secret     string
	SecretName string
	Body       string
	Timestamp  int64
}

type signResult struct {
	Signature string `json:"signature"`
	Timestamp string `json:"timestamp"`
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Compute webhook signature headers for a body",
		Long: `Compute the X-Signature and X-Timestamp headers a booking provider
would send for a webhook body.

The secret comes from --secret, or is resolved by name from the
SECRET_<NAME> environment variable.

Examples:
  sagactl sign --secret-name booking-webhook-secret --body payload.json
  echo '{"correlationId":"c-1","status":"confirmed"}' | sagactl sign --secret s3cret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Secret, "secret", "", "signing secret")
	cmd.Flags().StringVar(&opts.SecretName, "secret-name", "booking-webhook-secret", "secret name to resolve when --secret is empty")
	cmd.Flags().StringVar(&opts.Body, "body", "-", "body file, or - for stdin")
	cmd.Flags().Int64Var(&opts.Timestamp, "timestamp", 0, "unix seconds to sign at (default now)")

	return cmd
}

func runSign(ctx context.Context, opts *SignOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	secret := opts.Secret
	if secret == "" {
		var err error
		secret, err = secrets.NewEnvStore().Get(ctx, opts.SecretName)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to resolve secret", err)
		}
	}

	body, err := readBody(opts.Body, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read body", err)
	}

	at := time.Now()
	if opts.Timestamp > 0 {
		at = time.Unix(opts.Timestamp, 0)
	}
	signature, timestamp := webhook.Headers(secret, body, at)

	res := signResult{Signature: signature, Timestamp: timestamp}
	return printer{format: opts.Format, w: cmd.OutOrStdout()}.print(res,
		field{webhook.HeaderSignature, signature},
		field{webhook.HeaderTimestamp, timestamp},
	)
}

func readBody(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
