package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/najoast/conductor/logging"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		timeout time.Duration
		listen  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run every line read from stdin through the workflow",
		Long: `Start the application and its services, then run each line read from
standard input through the workflow until EOF or a termination signal.

The metrics server (monitor.enabled) and configuration hot reload (with
--config) run for the life of the command. A reloaded workflow applies to
lines read after the reload.

With --listen (or ingress.enabled) requests are also accepted over TCP, one
per line, and the command keeps running after stdin is exhausted.

Examples:
  # Transform a file line by line
  conductor serve --config conductor.yaml < input.txt

  # Accept TCP requests until interrupted
  conductor serve --listen 127.0.0.1:7070 < /dev/null`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				host, port, err := parseListen(listen)
				if err != nil {
					return err
				}
				opts.ingress = &ingressOverride{address: host, port: port}
			}

			app, logger, err := opts.newApplication(true)
			if err != nil {
				return err
			}
			defer func() { _ = logging.Sync(logger) }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.Start(ctx); err != nil {
				return err
			}
			if addr := app.MetricsAddr(); addr != "" {
				logger.Info("serving metrics", zap.String("addr", addr))
			}
			ingress := app.IngressAddr() != ""
			if ingress {
				logger.Info("accepting requests", zap.String("addr", app.IngressAddr()))
			}

			// Scan cannot be interrupted, so the reader is left out of the group
			lines := make(chan string)
			readErr := make(chan error, 1)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					select {
					case lines <- scanner.Text():
					case <-ctx.Done():
						return
					}
				}
				readErr <- scanner.Err()
			}()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				for {
					var line string
					select {
					case <-gctx.Done():
						return nil
					case l, ok := <-lines:
						if !ok {
							return <-readErr
						}
						line = l
					}

					runCtx, cancel := context.WithTimeout(gctx, timeout)
					result, err := app.Submit(runCtx, line)
					cancel()
					if err != nil {
						// one failed run does not end the session
						logger.Warn("run failed", zap.String("input", line), zap.Error(err))
						fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
						continue
					}
					fmt.Fprintln(cmd.OutOrStdout(), result.Output)
				}
			})
			if ingress {
				// the TCP ingress keeps serving after stdin ends
				g.Go(func() error {
					<-gctx.Done()
					return nil
				})
			}

			runErr := g.Wait()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config().Actor.ShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown", zap.Error(err))
			}
			return runErr
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "maximum time for one line")
	cmd.Flags().StringVar(&listen, "listen", "", "accept requests over TCP on host:port")
	return cmd
}

func parseListen(listen string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --listen %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid --listen port %q", portStr)
	}
	return host, port, nil
}
