package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nholik/lakehouse-bootstrap/internal/definition"
	"github.com/nholik/lakehouse-bootstrap/internal/graph"
	"github.com/nholik/lakehouse-bootstrap/internal/healthcheck"
	"github.com/nholik/lakehouse-bootstrap/internal/notify"
	"github.com/nholik/lakehouse-bootstrap/internal/report"
	"github.com/nholik/lakehouse-bootstrap/internal/transition"
	"github.com/rs/zerolog"
)

// postRunTimeout bounds persistence and notification, which still happen
// after the run itself was cancelled.
const postRunTimeout = 30 * time.Second

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// GraphBuilder turns a parsed definition into a dependency graph.
type GraphBuilder interface {
	Graph(file *definition.File) (*graph.Graph, error)
}

// Orchestrator executes one bootstrap run over a graph.
type Orchestrator interface {
	Run(ctx context.Context, g *graph.Graph) report.Report
}

// Runner reloads the services definition, runs the orchestrator, persists
// the report and announces node transitions.
type Runner struct {
	logger        zerolog.Logger
	interval      time.Duration
	runTimeout    time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error

	source       definition.Source
	lookup       func(string) (string, bool)
	builder      GraphBuilder
	orchestrator Orchestrator
	store        report.Store
	notifier     notify.Notifier
	tracker      *healthcheck.Tracker

	loaded definition.Loaded
	graph  *graph.Graph
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-run step used by Run.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithDefinitions sets where the services definition is loaded from.
func WithDefinitions(source definition.Source, lookup func(string) (string, bool)) Option {
	return func(r *Runner) {
		r.source = source
		r.lookup = lookup
	}
}

// WithLoaded seeds the runner with an already loaded definition.
func WithLoaded(loaded definition.Loaded) Option {
	return func(r *Runner) {
		r.loaded = loaded
	}
}

// WithStore enables report persistence and transition detection.
func WithStore(store report.Store) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithNotifier sets where transitions are delivered.
func WithNotifier(notifier notify.Notifier) Option {
	return func(r *Runner) {
		r.notifier = notifier
	}
}

// WithTracker records every run for the health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = tracker
	}
}

// WithRunTimeout bounds each run. Zero leaves runs unbounded.
func WithRunTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.runTimeout = timeout
	}
}

// New constructs a Runner. interval is the reconcile period used by Run.
func New(logger zerolog.Logger, interval time.Duration, builder GraphBuilder, orch Orchestrator, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		interval:     interval,
		builder:      builder,
		orchestrator: orch,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	r.runOnce = func(ctx context.Context) error {
		_, err := r.Execute(ctx)
		return err
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run executes immediately and then on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return errors.New("watch interval must be greater than zero")
	}

	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("initial bootstrap run failed")
	}

	ticker := r.tickerFactory(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("bootstrap run failed")
			}
		}
	}
}

// RunOnce executes a single run, discarding the report.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

// Execute runs the orchestrator once over the current definition. An
// error means no run took place; node failures are reported, not returned.
func (r *Runner) Execute(ctx context.Context) (report.Report, error) {
	if err := r.refresh(ctx); err != nil {
		return report.Report{}, err
	}

	runCtx := ctx
	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}

	run := r.orchestrator.Run(runCtx, r.graph)
	run.DefinitionsFingerprint = r.loaded.Fingerprint
	r.tracker.RecordRun(run)

	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postRunTimeout)
	defer cancel()
	if err := r.persistAndNotify(postCtx, run); err != nil {
		r.logger.Error().Err(err).Str("run_id", run.RunID).Msg("post-run handling failed")
	}
	return run, nil
}

func (r *Runner) refresh(ctx context.Context) error {
	if r.source != nil {
		loaded, changed, err := definition.Refresh(ctx, r.source, r.loaded, r.lookup)
		if err != nil {
			if r.graph == nil {
				return fmt.Errorf("load services definition: %w", err)
			}
			r.logger.Warn().Err(err).Msg("services definition refresh failed; keeping previous graph")
			return nil
		}
		if !changed && r.graph != nil {
			r.logger.Debug().Str("fingerprint", loaded.Fingerprint).Msg("services definition unchanged")
			return nil
		}
		r.loaded = loaded
	}

	if r.loaded.File == nil {
		return errors.New("services definition not loaded")
	}

	g, err := r.builder.Graph(r.loaded.File)
	if err != nil {
		return fmt.Errorf("build dependency graph: %w", err)
	}
	r.graph = g

	r.logger.Info().
		Int("services", g.Len()).
		Str("fingerprint", r.loaded.Fingerprint).
		Strs("order", g.ExecutionOrder()).
		Msg("services definition loaded")
	return nil
}

func (r *Runner) persistAndNotify(ctx context.Context, run report.Report) error {
	if r.store == nil {
		return nil
	}

	previous, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("previous report unavailable; treating as first run")
		previous = nil
	}
	if err := r.store.Save(ctx, run); err != nil {
		return err
	}

	transitions := transition.DetectNodeTransitions(previous, run)
	for _, change := range transitions {
		event := r.logger.Info()
		switch change.CurrentState {
		case report.StateFailed:
			event = r.logger.Error()
		case report.StateSkipped:
			event = r.logger.Warn()
		}
		event.
			Str("node", change.Name).
			Str("previous_state", string(change.PreviousState)).
			Str("current_state", string(change.CurrentState)).
			Str("failed_stage", change.FailedStage).
			Str("reason", change.Reason).
			Strs("applied", change.Applied).
			Msg("node transition detected")
	}

	if r.notifier == nil || len(transitions) == 0 {
		return nil
	}
	return r.notifier.Notify(ctx, run, transitions)
}
