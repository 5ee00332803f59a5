package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/nholik/lakehouse-bootstrap/internal/fault"
	"github.com/nholik/lakehouse-bootstrap/internal/report"
)

const (
	defaultCheckRetryDelay = 2 * time.Second
	defaultCallTimeout     = 10 * time.Second
)

var (
	errNotReflected = errors.New("service does not reflect the applied change")

	// ErrCancelled is returned when the run was cancelled before an action
	// could start.
	ErrCancelled = errors.New("cancelled before action started")
)

// Executor runs a node's actions strictly in order.
type Executor struct {
	logger          zerolog.Logger
	checkRetryDelay time.Duration
	callTimeout     time.Duration
}

// ExecutorOption customizes executor behavior.
type ExecutorOption func(*Executor)

// WithCheckRetryDelay sets the fixed delay before the single check retry.
func WithCheckRetryDelay(delay time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.checkRetryDelay = delay
	}
}

// WithCallTimeout bounds every check, apply and verify call.
func WithCallTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.callTimeout = timeout
	}
}

// NewExecutor constructs an Executor.
func NewExecutor(logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger:          logger,
		checkRetryDelay: defaultCheckRetryDelay,
		callTimeout:     defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes actions in declaration order and stops at the first failure;
// the remaining actions are reported as skipped. Cancelling ctx prevents new
// calls from starting, while calls already in flight run to completion or to
// their own timeout. The returned error is a *Failure.
func (e *Executor) Run(ctx context.Context, actions []Action) ([]report.ActionOutcome, error) {
	outcomes := make([]report.ActionOutcome, 0, len(actions))

	for i, a := range actions {
		if ctx.Err() != nil {
			outcomes = append(outcomes, skipRemaining(actions[i:], "cancelled")...)
			return outcomes, &Failure{Action: a.Name(), Stage: report.StageCancelled, Err: fault.Cancelled("action", ErrCancelled)}
		}

		outcome, err := e.runOne(ctx, a)
		outcomes = append(outcomes, outcome)
		if err != nil {
			outcomes = append(outcomes, skipRemaining(actions[i+1:], fmt.Sprintf("previous action %q failed", a.Name()))...)
			return outcomes, err
		}
	}

	return outcomes, nil
}

func (e *Executor) runOne(ctx context.Context, a Action) (report.ActionOutcome, error) {
	start := time.Now()
	logger := e.logger.With().Str("action", a.Name()).Logger()
	outcome := report.ActionOutcome{Name: a.Name(), Stage: report.StageCheck}

	fail := func(stage string, err error) (report.ActionOutcome, error) {
		outcome.Status = report.ActionFailed
		outcome.Stage = stage
		outcome.ErrorKind = string(fault.Classify(err))
		outcome.Error = err.Error()
		outcome.Elapsed = report.Duration(time.Since(start))
		if stage == report.StageCancelled {
			outcome.Status = report.ActionSkipped
			logger.Warn().Msg("action abandoned after cancellation")
		} else {
			logger.Error().Err(err).Str("stage", stage).Msg("action failed")
		}
		return outcome, &Failure{Action: a.Name(), Stage: stage, Err: err}
	}

	state, attempts, err := e.check(ctx, logger, a)
	outcome.CheckAttempts = attempts
	if err != nil {
		if fault.Classify(err) == fault.KindCancelled {
			return fail(report.StageCancelled, err)
		}
		return fail(report.StageCheck, err)
	}

	switch state {
	case StateSatisfied:
		outcome.Status = report.ActionAlreadySatisfied
		outcome.Elapsed = report.Duration(time.Since(start))
		logger.Debug().Msg("action already satisfied")
		return outcome, nil
	case StateNeedsApply:
	default:
		return fail(report.StageCheck, fault.Malformed("check", fmt.Errorf("unexpected check state %q", state)))
	}

	if ctx.Err() != nil {
		return fail(report.StageCancelled, fault.Cancelled("action", ErrCancelled))
	}

	if err := e.call(ctx, a.Apply); err != nil {
		if fault.Classify(err) == fault.KindUnknown {
			err = fault.Rejected("apply", err)
		}
		return fail(report.StageApply, err)
	}

	// Verify completes an apply that already happened, so it also runs
	// when cancellation arrived in between.
	if err := e.call(ctx, a.Verify); err != nil {
		switch fault.Classify(err) {
		case fault.KindUnknown, fault.KindRejected:
			err = fault.VerifyMismatch("verify", err)
		}
		return fail(report.StageVerify, err)
	}

	outcome.Status = report.ActionApplied
	outcome.Stage = report.StageVerify
	outcome.Elapsed = report.Duration(time.Since(start))
	logger.Info().Dur("elapsed", time.Since(start)).Msg("action applied")
	return outcome, nil
}

// check runs Check with one retry after a fixed delay for transient errors.
func (e *Executor) check(ctx context.Context, logger zerolog.Logger, a Action) (State, int, error) {
	var (
		state    State
		attempts int
	)

	operation := func() error {
		attempts++
		var checkErr error
		callErr := e.call(ctx, func(callCtx context.Context) error {
			state, checkErr = a.Check(callCtx)
			return checkErr
		})
		if callErr == nil {
			return nil
		}
		if fault.IsTransient(callErr) {
			return callErr
		}
		return backoff.Permanent(callErr)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(e.checkRetryDelay), 1), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("action check failed, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return "", attempts, fault.Cancelled("action", ErrCancelled)
		}
		return "", attempts, err
	}
	return state, attempts, nil
}

// call runs fn on a context detached from cancellation and bounded by the
// per-call timeout.
func (e *Executor) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx := context.WithoutCancel(ctx)
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.callTimeout)
		defer cancel()
	}
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && fault.Classify(err) != fault.KindTimeout {
		return fault.Timeout("call", err)
	}
	return err
}

func skipRemaining(actions []Action, reason string) []report.ActionOutcome {
	outcomes := make([]report.ActionOutcome, 0, len(actions))
	for _, a := range actions {
		outcomes = append(outcomes, report.ActionOutcome{
			Name:   a.Name(),
			Status: report.ActionSkipped,
			Error:  reason,
		})
	}
	return outcomes
}
