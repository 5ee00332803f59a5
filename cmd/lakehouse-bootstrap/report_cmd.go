package main

import (
	"errors"
	"fmt"

	"github.com/nholik/lakehouse-bootstrap/internal/config"
	"github.com/nholik/lakehouse-bootstrap/internal/logging"
	"github.com/nholik/lakehouse-bootstrap/internal/report"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		asJSON bool
		path   string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the last persisted report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return invalidConfig(err)
			}
			if cmd.Flags().Changed("report") {
				cfg.ReportPath = path
			}
			if cfg.ReportPath == "" {
				return invalidConfig(errors.New("report persistence is disabled"))
			}

			store := report.NewFileStore(cfg.ReportPath, logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel))
			last, err := store.Load(cmd.Context())
			if err != nil {
				return &exitError{code: report.ExitFailure, err: err}
			}
			if last == nil {
				return &exitError{code: report.ExitFailure, err: fmt.Errorf("no report found at %s", cfg.ReportPath)}
			}
			return writeReport(cmd.OutOrStdout(), *last, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&path, "report", "", "report file (overrides LB_REPORT_PATH)")
	return cmd
}
