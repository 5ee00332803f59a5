package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteSummary renders a human-readable table of the report.
func WriteSummary(w io.Writer, r Report) error {
	if _, err := fmt.Fprintf(w, "bootstrap %s: %s in %s (run %s)\n", r.Status, summarizeCounts(r), r.Elapsed, r.RunID); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATE\tHEALTH\tACTIONS\tDETAIL")
	for _, node := range r.Nodes {
		health := string(node.Health.Status)
		if node.Health.Attempts > 0 {
			health = fmt.Sprintf("%s (%d attempts, %s)", node.Health.Status, node.Health.Attempts, node.Health.Elapsed)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", node.Identity, node.State, health, summarizeActions(node.Actions), detail(node))
	}
	return tw.Flush()
}

func summarizeCounts(r Report) string {
	counts := r.Counts()
	return fmt.Sprintf("%d succeeded, %d failed, %d skipped",
		counts[StateSucceeded], counts[StateFailed], counts[StateSkipped])
}

func summarizeActions(actions []ActionOutcome) string {
	if len(actions) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(actions))
	for _, action := range actions {
		parts = append(parts, fmt.Sprintf("%s=%s", action.Name, action.Status))
	}
	return strings.Join(parts, ", ")
}

func detail(node ExecutionResult) string {
	if node.State == StateSucceeded {
		return ""
	}
	if node.FailedStage == "" {
		return node.Reason
	}
	return fmt.Sprintf("[%s] %s", node.FailedStage, node.Reason)
}
