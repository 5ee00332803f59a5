package action

import (
	"context"
	"fmt"
)

// State is the result of an idempotency check.
type State string

const (
	StateSatisfied  State = "satisfied"
	StateNeedsApply State = "needs-apply"
)

// Action is one idempotent configuration step against a service's
// administrative API, expressed as check, apply and verify. Implementations
// guarantee that applying twice leaves the service in the same observable
// state as applying once.
type Action interface {
	Name() string
	// Check reads the current state without side effects.
	Check(ctx context.Context) (State, error)
	// Apply performs the change. It is only called after Check reported
	// StateNeedsApply.
	Apply(ctx context.Context) error
	// Verify confirms the service reflects the applied change.
	Verify(ctx context.Context) error
}

// Funcs adapts plain functions to Action. A nil VerifyFn falls back to
// running CheckFn and requiring StateSatisfied.
type Funcs struct {
	ActionName string
	CheckFn    func(ctx context.Context) (State, error)
	ApplyFn    func(ctx context.Context) error
	VerifyFn   func(ctx context.Context) error
}

var _ Action = Funcs{}

func (f Funcs) Name() string { return f.ActionName }

func (f Funcs) Check(ctx context.Context) (State, error) {
	return f.CheckFn(ctx)
}

func (f Funcs) Apply(ctx context.Context) error {
	return f.ApplyFn(ctx)
}

func (f Funcs) Verify(ctx context.Context) error {
	if f.VerifyFn != nil {
		return f.VerifyFn(ctx)
	}
	return VerifyByCheck(ctx, f.CheckFn)
}

// VerifyByCheck re-runs check and requires it to report StateSatisfied.
func VerifyByCheck(ctx context.Context, check func(ctx context.Context) (State, error)) error {
	state, err := check(ctx)
	if err != nil {
		return err
	}
	if state != StateSatisfied {
		return errNotReflected
	}
	return nil
}

// Failure reports which stage of which action stopped a node.
type Failure struct {
	Action string
	Stage  string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("action %q %s: %v", f.Action, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
