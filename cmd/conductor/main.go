// Package main implements the conductor CLI: it runs text through a
// configured workflow of agents.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/najoast/conductor/bootstrap"
	"github.com/najoast/conductor/config"
	"github.com/najoast/conductor/logging"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configFile string
	logLevel   string

	// set by serve --listen
	ingress *ingressOverride
}

type ingressOverride struct {
	address string
	port    int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "conductor",
		Short: "Run messages through a workflow of actor agents",
		Long: `conductor routes each input through a fixed sequence of agents, each
running in its own actor, supervised by an orchestrator.

The workflow, agents and supervision policy come from a YAML or JSON
configuration file (conductor.yaml is searched for when --config is not
given), overridable with CONDUCTOR_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	return cmd
}

// loadConfig reads the configuration named by the flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader().Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = config.LogLevel(o.logLevel)
		if !cfg.Log.Level.IsValid() {
			return nil, fmt.Errorf("%w: %q", config.ErrInvalidLogLevel, o.logLevel)
		}
	}
	if o.ingress != nil {
		cfg.Ingress.Enabled = true
		cfg.Ingress.Address = o.ingress.address
		cfg.Ingress.Port = o.ingress.port
	}
	return cfg, nil
}

// newApplication builds the application and its logger from the flags.
// With watch set and a config file given, configuration changes are applied
// while running.
func (o *rootOptions) newApplication(watch bool) (*bootstrap.Application, *zap.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, level, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}

	appOpts := []bootstrap.Option{
		bootstrap.WithLogger(logger),
		bootstrap.WithAtomicLevel(level),
	}
	if watch && o.configFile != "" {
		provider, err := config.NewFileProvider(o.configFile, logger)
		if err != nil {
			return nil, nil, err
		}
		appOpts = append(appOpts, bootstrap.WithConfigProvider(provider))
	}

	app, err := bootstrap.New(cfg, appOpts...)
	if err != nil {
		return nil, nil, err
	}
	return app, logger, nil
}
