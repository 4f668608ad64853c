package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/najoast/conductor/agent"
	"github.com/najoast/conductor/bootstrap"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print the workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			// resolves every processor kind without starting anything
			if _, err := bootstrap.New(cfg); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "workflow: %s\n", strings.Join(cfg.Workflow.Steps, " -> "))
			for _, a := range cfg.Workflow.Agents {
				fmt.Fprintf(out, "  agent %s: processor=%s\n", a.Name, a.Processor)
			}
			fmt.Fprintf(out, "overrun: %s, supervisor: %s (max %d per %s)\n",
				orDefault(cfg.Workflow.Overrun, "reject"),
				orDefault(cfg.Workflow.Supervisor.Strategy, "restart"),
				cfg.Workflow.Supervisor.MaxRestarts, cfg.Workflow.Supervisor.Window)
			fmt.Fprintf(out, "processors: %s\n", strings.Join(agent.NewCatalog().Kinds(), ", "))
			return nil
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
