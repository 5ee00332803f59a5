package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/nholik/lakehouse-bootstrap/internal/report"
	"github.com/spf13/cobra"
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func invalidConfig(err error) error {
	return &exitError{code: report.ExitInvalidConfig, err: err}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "lakehouse-bootstrap",
		Short: "Bring a lakehouse stack to a ready, configured state",
		Long: `lakehouse-bootstrap waits for every service of a lakehouse stack to become
healthy in dependency order, then applies idempotent configuration
(buckets, admin users, catalog sources, branches) and reports the outcome.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(newRunCmd(), newValidateCmd(), newReportCmd())
	return root
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return report.ExitSuccess
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(stderr, "error:", exit.err)
		}
		return exit.code
	}
	fmt.Fprintln(stderr, "error:", err)
	return report.ExitInvalidConfig
}
