package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nholik/lakehouse-bootstrap/internal/report"
	"github.com/nholik/lakehouse-bootstrap/internal/transition"
	"github.com/rs/zerolog"
)

type countingNotifier struct {
	calls int
	err   error
}

func (n *countingNotifier) Notify(context.Context, report.Report, []transition.NodeTransition) error {
	n.calls++
	return n.err
}

func TestDryRunNotifierSuppressesDelivery(t *testing.T) {
	var buf bytes.Buffer
	inner := &countingNotifier{}
	dryRun := NewDryRunNotifier(zerolog.New(&buf), inner)

	transitions := []transition.NodeTransition{
		{Name: "catalog", CurrentState: report.StateFailed, FailedStage: report.StageHealth},
	}

	if err := dryRun.Notify(context.Background(), report.Report{RunID: "run-1"}, transitions); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected no notifier calls, got %d", inner.calls)
	}
	if !strings.Contains(buf.String(), `"service":"catalog"`) {
		t.Fatalf("expected dry-run log line, got %s", buf.String())
	}
}

func TestMultiNotifierAttemptsAll(t *testing.T) {
	failing := &countingNotifier{err: errors.New("slack down")}
	healthy := &countingNotifier{}
	multi := NewMultiNotifier(failing, nil, healthy)

	if multi.Len() != 2 {
		t.Fatalf("expected nil notifier to be dropped, got %d", multi.Len())
	}

	err := multi.Notify(context.Background(), report.Report{}, makeTransitions(1))
	if err == nil || !strings.Contains(err.Error(), "slack down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if failing.calls != 1 || healthy.calls != 1 {
		t.Fatalf("expected both notifiers called, got %d and %d", failing.calls, healthy.calls)
	}
}
