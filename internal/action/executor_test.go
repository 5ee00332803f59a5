package action

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/lakehouse-bootstrap/internal/fault"
	"github.com/nholik/lakehouse-bootstrap/internal/report"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.calls, ",")
}

// fakeAction records calls and models a target that becomes satisfied once applied.
type fakeAction struct {
	name      string
	log       *callLog
	applied   bool
	checkErrs []error
	applyErr  error
	verifyErr error
}

func (a *fakeAction) Name() string { return a.name }

func (a *fakeAction) Check(ctx context.Context) (State, error) {
	a.log.add(a.name + ".check")
	if len(a.checkErrs) > 0 {
		err := a.checkErrs[0]
		a.checkErrs = a.checkErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if a.applied {
		return StateSatisfied, nil
	}
	return StateNeedsApply, nil
}

func (a *fakeAction) Apply(ctx context.Context) error {
	a.log.add(a.name + ".apply")
	if a.applyErr != nil {
		return a.applyErr
	}
	a.applied = true
	return nil
}

func (a *fakeAction) Verify(ctx context.Context) error {
	a.log.add(a.name + ".verify")
	return a.verifyErr
}

func newTestExecutor() *Executor {
	return NewExecutor(zerolog.Nop(), WithCheckRetryDelay(time.Millisecond), WithCallTimeout(time.Second))
}

func TestExecutor_RunsInOrderAndApplies(t *testing.T) {
	log := &callLog{}
	actions := []Action{
		&fakeAction{name: "x", log: log},
		&fakeAction{name: "y", log: log},
		&fakeAction{name: "z", log: log},
	}

	outcomes, err := newTestExecutor().Run(context.Background(), actions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "x.check,x.apply,x.verify,y.check,y.apply,y.verify,z.check,z.apply,z.verify"
	if got := log.joined(); got != want {
		t.Fatalf("calls = %s, want %s", got, want)
	}
	for _, outcome := range outcomes {
		if outcome.Status != report.ActionApplied {
			t.Fatalf("%s status = %s, want applied", outcome.Name, outcome.Status)
		}
	}
}

func TestExecutor_SecondRunIsAlreadySatisfied(t *testing.T) {
	log := &callLog{}
	actions := []Action{&fakeAction{name: "bucket", log: log}, &fakeAction{name: "source", log: log}}
	executor := newTestExecutor()

	if _, err := executor.Run(context.Background(), actions); err != nil {
		t.Fatalf("first run: %v", err)
	}
	outcomes, err := executor.Run(context.Background(), actions)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, outcome := range outcomes {
		if outcome.Status != report.ActionAlreadySatisfied {
			t.Fatalf("%s status = %s, want already-satisfied", outcome.Name, outcome.Status)
		}
	}
}

func TestExecutor_CheckTransientRetriedOnce(t *testing.T) {
	log := &callLog{}
	a := &fakeAction{name: "x", log: log, checkErrs: []error{fault.Unreachable("check", errors.New("connection refused"))}}

	outcomes, err := newTestExecutor().Run(context.Background(), []Action{a})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].CheckAttempts != 2 {
		t.Fatalf("check attempts = %d, want 2", outcomes[0].CheckAttempts)
	}
	if outcomes[0].Status != report.ActionApplied {
		t.Fatalf("status = %s, want applied", outcomes[0].Status)
	}
}

func TestExecutor_CheckTransientTwiceFailsNode(t *testing.T) {
	log := &callLog{}
	refused := fault.Unreachable("check", errors.New("connection refused"))
	actions := []Action{
		&fakeAction{name: "x", log: log, checkErrs: []error{refused, refused, refused}},
		&fakeAction{name: "y", log: log},
	}

	outcomes, err := newTestExecutor().Run(context.Background(), actions)
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if failure.Action != "x" || failure.Stage != report.StageCheck {
		t.Fatalf("unexpected failure: %+v", failure)
	}
	if got := log.joined(); got != "x.check,x.check" {
		t.Fatalf("calls = %s", got)
	}
	if outcomes[0].CheckAttempts != 2 || outcomes[0].ErrorKind != string(fault.KindUnreachable) {
		t.Fatalf("unexpected outcome: %+v", outcomes[0])
	}
	if outcomes[1].Status != report.ActionSkipped {
		t.Fatalf("y status = %s, want skipped", outcomes[1].Status)
	}
}

func TestExecutor_MalformedCheckNotRetried(t *testing.T) {
	log := &callLog{}
	a := &fakeAction{name: "x", log: log, checkErrs: []error{fault.Malformed("check", errors.New("invalid character '<'"))}}

	outcomes, err := newTestExecutor().Run(context.Background(), []Action{a})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if outcomes[0].CheckAttempts != 1 {
		t.Fatalf("check attempts = %d, want 1", outcomes[0].CheckAttempts)
	}
}

func TestExecutor_ApplyFailureNotRetriedAndPreserved(t *testing.T) {
	log := &callLog{}
	actions := []Action{
		&fakeAction{name: "x", log: log, applyErr: errors.New(`400 Bad Request ({"errorMessage":"First user can only be created when no user is already registered"})`)},
		&fakeAction{name: "y", log: log},
	}

	outcomes, err := newTestExecutor().Run(context.Background(), actions)
	var failure *Failure
	if !errors.As(err, &failure) || failure.Stage != report.StageApply {
		t.Fatalf("expected apply failure, got %v", err)
	}
	if got := log.joined(); got != "x.check,x.apply" {
		t.Fatalf("calls = %s", got)
	}
	if !strings.Contains(outcomes[0].Error, "First user can only be created") {
		t.Fatalf("expected verbatim service error, got %q", outcomes[0].Error)
	}
	if outcomes[0].ErrorKind != string(fault.KindRejected) {
		t.Fatalf("error kind = %s", outcomes[0].ErrorKind)
	}
	if outcomes[1].Status != report.ActionSkipped {
		t.Fatalf("y status = %s, want skipped", outcomes[1].Status)
	}
}

func TestExecutor_VerifyFailureIsFatal(t *testing.T) {
	log := &callLog{}
	a := &fakeAction{name: "x", log: log, verifyErr: errors.New("source not found after create")}

	outcomes, err := newTestExecutor().Run(context.Background(), []Action{a})
	var failure *Failure
	if !errors.As(err, &failure) || failure.Stage != report.StageVerify {
		t.Fatalf("expected verify failure, got %v", err)
	}
	if outcomes[0].ErrorKind != string(fault.KindVerifyMismatch) {
		t.Fatalf("error kind = %s, want verify_mismatch", outcomes[0].ErrorKind)
	}
	if got := log.joined(); got != "x.check,x.apply,x.verify" {
		t.Fatalf("calls = %s", got)
	}
}

func TestExecutor_CancelledBeforeStart(t *testing.T) {
	log := &callLog{}
	actions := []Action{&fakeAction{name: "x", log: log}, &fakeAction{name: "y", log: log}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := newTestExecutor().Run(ctx, actions)
	var failure *Failure
	if !errors.As(err, &failure) || failure.Stage != report.StageCancelled {
		t.Fatalf("expected cancellation failure, got %v", err)
	}
	if got := log.joined(); got != "" {
		t.Fatalf("expected no calls, got %s", got)
	}
	for _, outcome := range outcomes {
		if outcome.Status != report.ActionSkipped {
			t.Fatalf("%s status = %s, want skipped", outcome.Name, outcome.Status)
		}
	}
}

func TestExecutor_CancelDuringCheckRetryWait(t *testing.T) {
	log := &callLog{}
	refused := fault.Unreachable("check", errors.New("connection refused"))
	a := &fakeAction{name: "x", log: log, checkErrs: []error{refused, refused}}

	ctx, cancel := context.WithCancel(context.Background())
	executor := NewExecutor(zerolog.Nop(), WithCheckRetryDelay(time.Hour))
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	outcomes, err := executor.Run(ctx, []Action{a})
	var failure *Failure
	if !errors.As(err, &failure) || failure.Stage != report.StageCancelled {
		t.Fatalf("expected cancellation failure, got %v", err)
	}
	if outcomes[0].Status != report.ActionSkipped {
		t.Fatalf("status = %s, want skipped", outcomes[0].Status)
	}
	if got := log.joined(); got != "x.check" {
		t.Fatalf("calls = %s", got)
	}
}

func TestFuncs_DefaultVerifyUsesCheck(t *testing.T) {
	exists := false
	a := Funcs{
		ActionName: "bucket",
		CheckFn: func(context.Context) (State, error) {
			if exists {
				return StateSatisfied, nil
			}
			return StateNeedsApply, nil
		},
		ApplyFn: func(context.Context) error {
			return nil
		},
	}

	if err := a.Verify(context.Background()); err == nil {
		t.Fatalf("expected verify to fail while check reports needs-apply")
	}
	exists = true
	if err := a.Verify(context.Background()); err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
}
