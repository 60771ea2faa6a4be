// Package cli implements sagactl, the operator tool for the booking saga
// service.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format         string // "json" | "text"
	RedisURL       string
	BreakerPrefix  string
	CallbackPrefix string
	Timeout        time.Duration

	// newRedis is replaced in tests.
	newRedis func(url string) (redis.UniversalClient, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for sagactl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{newRedis: dialRedis}

	cmd := &cobra.Command{
		Use:   "sagactl",
		Short: "Operate the booking saga service",
		Long:  "Inspect breakers and pending callbacks, sign test webhooks and invoke steps.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.RedisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL holding breaker and callback state")
	cmd.PersistentFlags().StringVar(&opts.BreakerPrefix, "breaker-prefix", envOr("BREAKER_KEY_PREFIX", "bookflow:breaker"), "breaker key prefix")
	cmd.PersistentFlags().StringVar(&opts.CallbackPrefix, "callback-prefix", envOr("REDIS_CALLBACK_PREFIX", "bookflow:callback"), "callback key prefix")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "per-command timeout")

	cmd.AddCommand(NewSignCommand(opts))
	cmd.AddCommand(NewBreakerCommand(opts))
	cmd.AddCommand(NewCallbacksCommand(opts))
	cmd.AddCommand(NewInvokeCommand(opts))

	return cmd
}

func (o *RootOptions) context() (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), o.Timeout)
}

func (o *RootOptions) redis() (redis.UniversalClient, error) {
	if o.RedisURL == "" {
		return nil, NewExitError(ExitCommandError, "--redis-url (or REDIS_URL) is required")
	}
	client, err := o.newRedis(o.RedisURL)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
	}
	return client, nil
}

func dialRedis(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
