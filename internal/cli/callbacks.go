package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"bookflow/internal/callback"
	"bookflow/internal/saga"
)

type callbackView struct {
	CorrelationID     string    `json:"correlationId"`
	ContinuationToken string    `json:"continuationToken"`
	CreatedAt         time.Time `json:"createdAt"`
	PayloadBytes      int       `json:"payloadBytes"`
}

// NewCallbacksCommand creates the callbacks command group.
func NewCallbacksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callbacks",
		Short: "Inspect pending webhook callbacks",
	}
	cmd.AddCommand(newCallbacksShowCommand(rootOpts))
	return cmd
}

func newCallbacksShowCommand(opts *RootOptions) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show <correlationId>",
		Short: "Show the pending callback for a saga",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.redis()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := opts.context()
			defer cancel()

			cb, err := callback.NewRedisStore(client, opts.CallbackPrefix).Get(ctx, args[0])
			if errors.Is(err, saga.ErrCallbackNotFound) {
				return WrapExitError(ExitFailure, "no pending callback for "+args[0], err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read callback", err)
			}

			token := cb.ContinuationToken
			if !reveal {
				token = maskToken(token)
			}
			view := callbackView{
				CorrelationID:     cb.CorrelationID,
				ContinuationToken: token,
				CreatedAt:         cb.CreatedAt,
				PayloadBytes:      len(cb.Payload),
			}
			return printer{format: opts.Format, w: cmd.OutOrStdout()}.print(view,
				field{"correlationId", view.CorrelationID},
				field{"continuationToken", view.ContinuationToken},
				field{"createdAt", view.CreatedAt.Format(time.RFC3339)},
				field{"payloadBytes", view.PayloadBytes},
			)
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the full continuation token")
	return cmd
}

// maskToken keeps the first six characters.
func maskToken(token string) string {
	if len(token) <= 6 {
		return "******"
	}
	return token[:6] + "******"
}
