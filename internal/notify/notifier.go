package notify

import (
	"context"

	"github.com/nholik/lakehouse-bootstrap/internal/report"
	"github.com/nholik/lakehouse-bootstrap/internal/transition"
)

// Notifier delivers run outcomes to external systems.
type Notifier interface {
	Notify(ctx context.Context, run report.Report, transitions []transition.NodeTransition) error
}
