package notify

import (
	"context"

	"github.com/nholik/lakehouse-bootstrap/internal/report"
	"github.com/nholik/lakehouse-bootstrap/internal/transition"
	"github.com/rs/zerolog"
)

// DryRunNotifier logs transitions without delivering them.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier wraps inner so that nothing is sent.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, run report.Report, transitions []transition.NodeTransition) error {
	for _, change := range transitions {
		n.logger.Info().
			Str("run_id", run.RunID).
			Str("run_status", string(run.Status)).
			Str("service", change.Name).
			Str("previous_state", string(change.PreviousState)).
			Str("current_state", string(change.CurrentState)).
			Str("failed_stage", change.FailedStage).
			Str("reason", change.Reason).
			Msg("[DRY-RUN] Would notify")
	}
	return nil
}
