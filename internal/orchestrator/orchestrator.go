package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nholik/lakehouse-bootstrap/internal/action"
	"github.com/nholik/lakehouse-bootstrap/internal/graph"
	"github.com/nholik/lakehouse-bootstrap/internal/metrics"
	"github.com/nholik/lakehouse-bootstrap/internal/probe"
	"github.com/nholik/lakehouse-bootstrap/internal/report"
)

// reasonCancelled is the skip reason for nodes abandoned by cancellation.
const reasonCancelled = "cancelled"

// Orchestrator drives every node of a graph through readiness and
// configuration, one goroutine per node.
type Orchestrator struct {
	logger   zerolog.Logger
	executor *action.Executor
	metrics  *metrics.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	newRunID func() string
}

// Option customizes orchestrator behavior.
type Option func(*Orchestrator)

// WithExecutor sets the action executor.
func WithExecutor(executor *action.Executor) Option {
	return func(o *Orchestrator) {
		if executor != nil {
			o.executor = executor
		}
	}
}

// WithMetrics enables Prometheus metrics recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithSleep replaces the wait between probe attempts. The function must
// return early with ctx.Err() when ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunID replaces the run identifier generator.
func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newRunID = fn
		}
	}
}

// New constructs an Orchestrator.
func New(logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   logger,
		executor: action.NewExecutor(logger),
		sleep:    sleepContext,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// nodeRun is the per-run state of one node. state is written only by the
// node's own goroutine; result is read by others after done is closed.
type nodeRun struct {
	node   graph.ServiceNode
	deps   []*nodeRun
	done   chan struct{}
	state  atomic.Value
	result report.ExecutionResult
}

func (r *nodeRun) State() report.NodeState {
	state, _ := r.state.Load().(report.NodeState)
	return state
}

// Run executes the graph and returns once every node is terminal.
// Cancelling ctx stops new probe and action calls; nodes that have not
// finished are reported as skipped.
func (o *Orchestrator) Run(ctx context.Context, g *graph.Graph) report.Report {
	runID := o.newRunID()
	started := o.now()
	logger := o.logger.With().Str("run_id", runID).Logger()

	order := g.ExecutionOrder()
	runs := make(map[string]*nodeRun, len(order))
	for _, id := range order {
		node, _ := g.Node(id)
		run := &nodeRun{node: node, done: make(chan struct{})}
		run.state.Store(report.StatePending)
		runs[id] = run
	}
	for _, id := range order {
		for _, dep := range g.DependenciesOf(id) {
			runs[id].deps = append(runs[id].deps, runs[dep])
		}
	}

	logger.Info().Int("services", len(order)).Strs("order", order).Msg("bootstrap run started")

	var wg sync.WaitGroup
	for _, id := range order {
		wg.Add(1)
		go func(run *nodeRun) {
			defer wg.Done()
			o.runNode(ctx, logger, run)
		}(runs[id])
	}
	wg.Wait()

	results := make([]report.ExecutionResult, 0, len(order))
	for _, id := range order {
		results = append(results, runs[id].result)
	}

	finished := o.now()
	r := report.Report{
		RunID:      runID,
		Status:     report.Aggregate(results, g.Sinks()),
		Nodes:      results,
		StartedAt:  started,
		FinishedAt: finished,
		Elapsed:    report.Duration(finished.Sub(started)),
	}
	o.record(r)

	counts := r.Counts()
	event := logger.Info()
	if r.Status != report.StatusSuccess {
		event = logger.Warn()
	}
	event.
		Str("status", string(r.Status)).
		Int("succeeded", counts[report.StateSucceeded]).
		Int("failed", counts[report.StateFailed]).
		Int("skipped", counts[report.StateSkipped]).
		Dur("elapsed", finished.Sub(started)).
		Msg("bootstrap run finished")

	return r
}

func (o *Orchestrator) runNode(ctx context.Context, logger zerolog.Logger, run *nodeRun) {
	defer close(run.done)

	start := o.now()
	logger = logger.With().Str("node", run.node.Identity).Logger()
	run.result = report.ExecutionResult{
		Identity:  run.node.Identity,
		StartedAt: start,
		Health:    report.HealthOutcome{Status: report.HealthNotRun},
	}

	finish := func(state report.NodeState, stage, reason string) {
		run.result.State = state
		run.result.FailedStage = stage
		run.result.Reason = reason
		run.result.Elapsed = report.Duration(o.now().Sub(start))
		o.transition(logger, run, state)
	}

	o.transition(logger, run, report.StateWaiting)
	if blocker, ok := o.awaitDependencies(ctx, run); !ok {
		if blocker == nil {
			finish(report.StateSkipped, report.StageCancelled, reasonCancelled)
			return
		}
		finish(report.StateSkipped, report.StageDependencies,
			fmt.Sprintf("dependency %s %s", blocker.node.Identity, blocker.result.State))
		return
	}

	if ctx.Err() != nil {
		finish(report.StateSkipped, report.StageCancelled, reasonCancelled)
		return
	}

	o.transition(logger, run, report.StateProbing)
	health, cancelled := o.awaitHealthy(ctx, logger, run.node)
	run.result.Health = health
	if cancelled {
		finish(report.StateSkipped, report.StageCancelled, reasonCancelled)
		return
	}
	if health.Status != report.HealthReady {
		finish(report.StateFailed, report.StageHealth, health.Error)
		return
	}

	o.transition(logger, run, report.StateConfiguring)
	outcomes, err := o.executor.Run(ctx, run.node.Actions)
	run.result.Actions = outcomes
	for _, outcome := range outcomes {
		o.metrics.IncActions(run.node.Identity, string(outcome.Status))
	}
	if err != nil {
		var failure *action.Failure
		if !errors.As(err, &failure) {
			finish(report.StateFailed, report.StageApply, err.Error())
			return
		}
		if failure.Stage == report.StageCancelled {
			finish(report.StateSkipped, report.StageCancelled, reasonCancelled)
			return
		}
		finish(report.StateFailed, report.ActionStage(failure.Action, failure.Stage), failure.Err.Error())
		return
	}

	finish(report.StateSucceeded, "", "")
}

// awaitDependencies blocks until every dependency succeeded. It returns
// false with the first dependency that did not succeed, or false with a nil
// blocker when ctx was cancelled first.
func (o *Orchestrator) awaitDependencies(ctx context.Context, run *nodeRun) (*nodeRun, bool) {
	if len(run.deps) == 0 {
		return nil, true
	}

	finished := make(chan *nodeRun, len(run.deps))
	stop := make(chan struct{})
	defer close(stop)
	for _, dep := range run.deps {
		go func(dep *nodeRun) {
			select {
			case <-dep.done:
				finished <- dep
			case <-stop:
			}
		}(dep)
	}

	for remaining := len(run.deps); remaining > 0; remaining-- {
		select {
		case dep := <-finished:
			if dep.result.State != report.StateSucceeded {
				if ctx.Err() != nil && dep.result.FailedStage == report.StageCancelled {
					return nil, false
				}
				return dep, false
			}
		case <-ctx.Done():
			return nil, false
		}
	}
	return nil, true
}

// evaluate runs one probe evaluation. In-flight calls outlive cancellation
// but never the retry policy's overall deadline; the probe applies its own
// timeout on top.
func (o *Orchestrator) evaluate(ctx context.Context, node graph.ServiceNode, elapsed time.Duration) probe.Outcome {
	evalCtx := context.WithoutCancel(ctx)
	if deadline := node.Retry.OverallDeadline; deadline > 0 {
		remaining := deadline - elapsed
		if remaining <= 0 {
			return probe.Outcome{
				Status: probe.StatusNotReady,
				Detail: "overall deadline reached",
				Err:    context.DeadlineExceeded,
			}
		}
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(evalCtx, remaining)
		defer cancel()
	}
	return node.Probe.Evaluate(evalCtx)
}

// awaitHealthy evaluates the node's probe until it is ready, the probe
// reports a malformed response, or the retry policy gives up. The second
// result is true when ctx was cancelled before a verdict.
func (o *Orchestrator) awaitHealthy(ctx context.Context, logger zerolog.Logger, node graph.ServiceNode) (report.HealthOutcome, bool) {
	start := o.now()
	outcome := report.HealthOutcome{Status: report.HealthNotRun}

	if node.Probe == nil {
		outcome.Status = report.HealthReady
		outcome.Detail = "no probe configured"
		return outcome, false
	}

	for {
		if ctx.Err() != nil {
			outcome.Elapsed = report.Duration(o.now().Sub(start))
			outcome.Detail = reasonCancelled
			return outcome, true
		}

		outcome.Attempts++
		result := o.evaluate(ctx, node, o.now().Sub(start))
		elapsed := o.now().Sub(start)
		outcome.Elapsed = report.Duration(elapsed)
		outcome.Detail = result.Detail
		o.metrics.IncProbeAttempts(node.Identity, string(result.Status))

		switch result.Status {
		case probe.StatusReady:
			outcome.Status = report.HealthReady
			outcome.Error = ""
			logger.Info().Int("attempt", outcome.Attempts).Dur("elapsed", elapsed).Msg("service ready")
			return outcome, false
		case probe.StatusError:
			outcome.Status = report.HealthError
			outcome.Error = probeError(result.Detail, result.Err)
			logger.Error().Int("attempt", outcome.Attempts).Str("detail", result.Detail).Msg("health probe returned malformed response")
			return outcome, false
		}

		delay, again := node.Retry.NextDelay(outcome.Attempts, elapsed)
		if !again {
			outcome.Status = report.HealthTimeout
			outcome.Error = fmt.Sprintf("not ready after %d attempts in %s: %s",
				outcome.Attempts, elapsed.Round(time.Millisecond), probeError(result.Detail, result.Err))
			logger.Error().Int("attempt", outcome.Attempts).Dur("elapsed", elapsed).Msg("health retries exhausted")
			return outcome, false
		}

		logger.Debug().
			Int("attempt", outcome.Attempts).
			Dur("delay", delay).
			Str("detail", result.Detail).
			Msg("service not ready, retrying")
		if err := o.sleep(ctx, delay); err != nil {
			outcome.Elapsed = report.Duration(o.now().Sub(start))
			outcome.Detail = reasonCancelled
			return outcome, true
		}
	}
}

func (o *Orchestrator) transition(logger zerolog.Logger, run *nodeRun, state report.NodeState) {
	run.state.Store(state)

	event := logger.Debug()
	switch state {
	case report.StateSucceeded:
		event = logger.Info()
	case report.StateFailed:
		event = logger.Error().Str("stage", run.result.FailedStage).Str("reason", run.result.Reason)
	case report.StateSkipped:
		event = logger.Warn().Str("stage", run.result.FailedStage).Str("reason", run.result.Reason)
	}
	event.Str("state", string(state)).Msg("node state changed")
}

func (o *Orchestrator) record(r report.Report) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveRun(string(r.Status), time.Duration(r.Elapsed))
	counts := r.Counts()
	for _, state := range []report.NodeState{report.StateSucceeded, report.StateFailed, report.StateSkipped} {
		o.metrics.SetNodes(string(state), counts[state])
	}
	if r.Status == report.StatusSuccess {
		o.metrics.SetLastSuccessfulRunTimestamp(r.FinishedAt)
	}
}

func probeError(detail string, err error) string {
	if err == nil {
		return detail
	}
	if detail == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", detail, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
