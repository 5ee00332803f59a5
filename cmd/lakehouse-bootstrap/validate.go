package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the services definition and print the startup order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := loadEnvironment(ctx, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			planner, closeRuntime, err := newPlanner(ctx, env)
			if err != nil {
				return invalidConfig(err)
			}
			defer closeRuntime()

			g, err := planner.Graph(env.loaded.File)
			if err != nil {
				return invalidConfig(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "services definition ok (%d services, fingerprint %s)\n", g.Len(), env.loaded.Fingerprint)
			for i, level := range g.Levels() {
				fmt.Fprintf(out, "level %d: %s\n", i, strings.Join(level, ", "))
			}
			fmt.Fprintf(out, "order: %s\n", strings.Join(g.ExecutionOrder(), " -> "))
			return nil
		},
	}
	cmd.Flags().String("services", "", "services definition file or URL (overrides LB_SERVICES_FILE)")
	return cmd
}
