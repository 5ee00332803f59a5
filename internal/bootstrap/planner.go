// Package bootstrap turns a parsed services definition into the service
// nodes the orchestrator runs: probes bound to their targets and
// configuration actions bound to admin API clients.
package bootstrap

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/nholik/lakehouse-bootstrap/internal/action"
	"github.com/nholik/lakehouse-bootstrap/internal/admin"
	"github.com/nholik/lakehouse-bootstrap/internal/compose"
	"github.com/nholik/lakehouse-bootstrap/internal/definition"
	"github.com/nholik/lakehouse-bootstrap/internal/graph"
	"github.com/nholik/lakehouse-bootstrap/internal/probe"
	"github.com/nholik/lakehouse-bootstrap/internal/runtime"
	"github.com/rs/zerolog"
)

const defaultCallTimeout = 10 * time.Second

// Planner builds service nodes from a definition.
type Planner struct {
	logger      zerolog.Logger
	runtime     runtime.Client
	project     *compose.Project
	callTimeout time.Duration
	httpClient  *http.Client
}

// Option customizes a Planner.
type Option func(*Planner)

// WithRuntime sets the container runtime used by container probes.
func WithRuntime(client runtime.Client) Option {
	return func(p *Planner) {
		p.runtime = client
	}
}

// WithProject resolves compose_service references through project.
func WithProject(project compose.Project) Option {
	return func(p *Planner) {
		p.project = &project
	}
}

// WithCallTimeout bounds each admin API request.
func WithCallTimeout(timeout time.Duration) Option {
	return func(p *Planner) {
		if timeout > 0 {
			p.callTimeout = timeout
		}
	}
}

// WithHTTPClient shares one HTTP client between probes and admin clients.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Planner) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// NewPlanner constructs a Planner.
func NewPlanner(logger zerolog.Logger, opts ...Option) *Planner {
	p := &Planner{
		logger:      logger,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.httpClient == nil {
		p.httpClient = cleanhttp.DefaultPooledClient()
	}
	return p
}

// NeedsRuntime reports whether any service uses a container probe.
func NeedsRuntime(file *definition.File) bool {
	for _, svc := range file.Services {
		if probe.Kind(svc.Probe.Kind) == probe.KindContainer {
			return true
		}
	}
	return false
}

// Graph builds the nodes of file and validates them as a dependency graph.
func (p *Planner) Graph(file *definition.File) (*graph.Graph, error) {
	nodes, err := p.Nodes(file)
	if err != nil {
		return nil, err
	}
	return graph.Build(nodes)
}

// Nodes converts every service of file to a graph.ServiceNode, preserving
// declaration order. All problems are reported together.
func (p *Planner) Nodes(file *definition.File) ([]graph.ServiceNode, error) {
	if file == nil {
		return nil, errors.New("services definition is nil")
	}

	clients := newClientSet(p.adminOptions())
	nodes := make([]graph.ServiceNode, 0, len(file.Services))
	var errs []error

	for _, svc := range file.Services {
		node, err := p.node(file, svc, clients)
		if err != nil {
			errs = append(errs, fmt.Errorf("service %q: %w", svc.Name, err))
			continue
		}
		nodes = append(nodes, node)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	p.logger.Debug().Int("services", len(nodes)).Msg("service nodes planned")
	return nodes, nil
}

func (p *Planner) node(file *definition.File, svc definition.Service, clients *clientSet) (graph.ServiceNode, error) {
	policy, ok := file.Policy(svc.Retry)
	if !ok {
		return graph.ServiceNode{}, fmt.Errorf("unknown retry policy %q", svc.Retry)
	}

	prober, err := p.probe(svc)
	if err != nil {
		return graph.ServiceNode{}, err
	}

	actions := make([]action.Action, 0, len(svc.Actions))
	for _, decl := range svc.Actions {
		a, err := clients.action(decl)
		if err != nil {
			return graph.ServiceNode{}, fmt.Errorf("action %q: %w", decl.Name, err)
		}
		actions = append(actions, a)
	}

	return graph.ServiceNode{
		Identity:  svc.Name,
		Probe:     prober,
		Retry:     policy,
		DependsOn: svc.DependsOn,
		Actions:   actions,
	}, nil
}

func (p *Planner) probe(svc definition.Service) (probe.Prober, error) {
	decl := svc.Probe
	if decl.Kind == "" {
		return nil, nil
	}

	cfg := probe.Config{
		Kind:         probe.Kind(decl.Kind),
		Target:       decl.Target,
		Timeout:      decl.Timeout,
		ExpectStatus: decl.ExpectStatus,
		Field:        decl.Field,
		Equals:       decl.Equals,
	}

	opts := []probe.Option{probe.WithHTTPClient(p.httpClient)}
	if cfg.Kind == probe.KindContainer {
		if cfg.Target == "" {
			name, err := p.containerName(svc)
			if err != nil {
				return nil, err
			}
			cfg.Target = name
		}
		if p.runtime != nil {
			opts = append(opts, probe.WithRuntime(p.runtime))
		}
	}

	prober, err := probe.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	return prober, nil
}

func (p *Planner) containerName(svc definition.Service) (string, error) {
	if svc.Container != "" {
		return svc.Container, nil
	}
	if svc.ComposeService == "" {
		return svc.Name, nil
	}
	if p.project == nil {
		return "", fmt.Errorf("compose_service %q needs a compose file to resolve its container", svc.ComposeService)
	}
	container, ok := p.project.Lookup(svc.ComposeService)
	if !ok {
		return "", fmt.Errorf("compose service %q not found in project %s", svc.ComposeService, p.project.Name)
	}
	return container.Name, nil
}

func (p *Planner) adminOptions() []admin.Option {
	return []admin.Option{
		admin.WithHTTPClient(p.httpClient),
		admin.WithTimeout(p.callTimeout),
	}
}
