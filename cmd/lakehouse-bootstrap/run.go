package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nholik/lakehouse-bootstrap/internal/action"
	"github.com/nholik/lakehouse-bootstrap/internal/healthcheck"
	"github.com/nholik/lakehouse-bootstrap/internal/metrics"
	"github.com/nholik/lakehouse-bootstrap/internal/orchestrator"
	"github.com/nholik/lakehouse-bootstrap/internal/report"
	"github.com/nholik/lakehouse-bootstrap/internal/runner"
	"github.com/nholik/lakehouse-bootstrap/internal/server"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		asJSON     bool
		watch      time.Duration
		reportPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Wait for every service and apply its configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := loadEnvironment(ctx, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("watch") {
				env.cfg.WatchInterval = watch
			}
			if cmd.Flags().Changed("report") {
				env.cfg.ReportPath = reportPath
			}
			return runBootstrap(ctx, env, cmd.OutOrStdout(), asJSON)
		},
	}

	cmd.Flags().String("services", "", "services definition file or URL (overrides LB_SERVICES_FILE)")
	cmd.Flags().DurationVar(&watch, "watch", 0, "re-run on this interval until interrupted (overrides LB_WATCH_INTERVAL)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&reportPath, "report", "", "where to persist the report (overrides LB_REPORT_PATH)")
	return cmd
}

func runBootstrap(ctx context.Context, env environment, out io.Writer, asJSON bool) error {
	cfg, logger := env.cfg, env.logger

	planner, closeRuntime, err := newPlanner(ctx, env)
	if err != nil {
		return invalidConfig(err)
	}
	defer closeRuntime()

	// Reject cycles and unresolvable services before any network activity.
	g, err := planner.Graph(env.loaded.File)
	if err != nil {
		return invalidConfig(err)
	}
	logger.Info().
		Strs("order", g.ExecutionOrder()).
		Int("services", g.Len()).
		Bool("watch", cfg.Watch()).
		Msg("lakehouse-bootstrap starting")

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return invalidConfig(err)
	}

	collector := metrics.New()
	tracker := healthcheck.NewTracker()
	server.Start(ctx, logger, server.Config{
		HealthPort:    cfg.HealthPort,
		MetricsPort:   cfg.MetricsPort,
		WatchInterval: cfg.WatchInterval,
		RunTimeout:    cfg.RunTimeout,
	}, tracker, collector)

	executor := action.NewExecutor(logger,
		action.WithCheckRetryDelay(cfg.CheckRetryDelay),
		action.WithCallTimeout(cfg.CallTimeout),
	)
	orch := orchestrator.New(logger,
		orchestrator.WithExecutor(executor),
		orchestrator.WithMetrics(collector),
	)

	opts := []runner.Option{
		runner.WithDefinitions(env.source, nil),
		runner.WithLoaded(env.loaded),
		runner.WithNotifier(notifier),
		runner.WithTracker(tracker),
		runner.WithRunTimeout(cfg.RunTimeout),
	}
	if cfg.ReportPath != "" {
		opts = append(opts, runner.WithStore(report.NewFileStore(cfg.ReportPath, logger)))
	}
	r := runner.New(logger, cfg.WatchInterval, planner, orch, opts...)

	if cfg.Watch() {
		return r.Run(ctx)
	}

	run, err := r.Execute(ctx)
	if err != nil {
		return invalidConfig(err)
	}
	if err := writeReport(out, run, asJSON); err != nil {
		return err
	}
	if code := run.ExitCode(); code != report.ExitSuccess {
		return &exitError{code: code}
	}
	return nil
}

func writeReport(out io.Writer, run report.Report, asJSON bool) error {
	if !asJSON {
		return report.WriteSummary(out, run)
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(run)
}
