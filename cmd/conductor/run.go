package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/najoast/conductor/logging"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		timeout time.Duration
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "run <input>...",
		Short: "Run each input through the workflow once",
		Long: `Run each argument through the configured workflow and print the output
of the last agent, one line per input.

Examples:
  # Default workflow (trim, upper)
  conductor run "  hello  "

  # Show the route taken
  conductor run -v --config conductor.yaml hello world`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, logger, err := opts.newApplication(false)
			if err != nil {
				return err
			}
			defer func() { _ = logging.Sync(logger) }()

			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config().Actor.ShutdownTimeout)
				defer cancel()
				if err := app.Shutdown(shutdownCtx); err != nil {
					logger.Warn("shutdown", zap.Error(err))
				}
			}()

			for _, input := range args {
				runCtx, cancel := context.WithTimeout(ctx, timeout)
				result, err := app.Submit(runCtx, input)
				cancel()
				if err != nil {
					return err
				}

				if verbose {
					route := make([]string, len(result.Steps))
					for i, s := range result.Steps {
						route[i] = s.Agent
					}
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s (%s)\n",
						strings.Join(route, " -> "), result.Output, result.Duration.Round(time.Microsecond))
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.Output)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "maximum time for one input")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the route and duration with each output")
	return cmd
}
