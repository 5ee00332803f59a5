package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/nholik/lakehouse-bootstrap/internal/runtime"
)

const defaultTimeout = 5 * time.Second

// Status is the result of a single readiness evaluation.
type Status string

const (
	StatusReady    Status = "ready"
	StatusNotReady Status = "not-ready"
	// StatusError means the probe or the response is malformed; retrying
	// cannot help.
	StatusError Status = "error"
)

// Kind selects how readiness is determined.
type Kind string

const (
	KindHTTPStatus Kind = "http_status"
	KindHTTPBody   Kind = "http_body"
	KindTCP        Kind = "tcp"
	KindContainer  Kind = "container"
)

// Outcome is what one evaluation observed.
type Outcome struct {
	Status Status
	Detail string
	Err    error
}

func ready(detail string) Outcome { return Outcome{Status: StatusReady, Detail: detail} }

func notReady(detail string, err error) Outcome {
	return Outcome{Status: StatusNotReady, Detail: detail, Err: err}
}

func malformed(detail string, err error) Outcome {
	return Outcome{Status: StatusError, Detail: detail, Err: err}
}

// Prober evaluates readiness of one service. Implementations must return
// within their own timeout.
type Prober interface {
	Evaluate(ctx context.Context) Outcome
	String() string
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ContextDialer is satisfied by *net.Dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config declares a probe.
type Config struct {
	Kind    Kind
	Target  string
	Timeout time.Duration

	// ExpectStatus lists accepted HTTP status codes. Empty accepts any 2xx.
	ExpectStatus []int
	// Field is a dotted JSON path checked by http_body probes.
	Field string
	// Equals is the expected string form of Field.
	Equals string
}

// Probe is an immutable readiness check built from a Config.
type Probe struct {
	cfg     Config
	http    HTTPDoer
	dialer  ContextDialer
	runtime runtime.Client
}

var _ Prober = (*Probe)(nil)

// Option customizes probe collaborators.
type Option func(*Probe)

// WithHTTPClient overrides the HTTP client used by http probes.
func WithHTTPClient(client HTTPDoer) Option {
	return func(p *Probe) {
		p.http = client
	}
}

// WithDialer overrides the dialer used by tcp probes.
func WithDialer(dialer ContextDialer) Option {
	return func(p *Probe) {
		p.dialer = dialer
	}
}

// WithRuntime sets the container runtime used by container probes.
func WithRuntime(client runtime.Client) Option {
	return func(p *Probe) {
		p.runtime = client
	}
}

// New validates cfg and returns a Probe.
func New(cfg Config, opts ...Option) (*Probe, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Target == "" {
		return nil, errors.New("probe target is required")
	}

	p := &Probe{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}

	switch cfg.Kind {
	case KindHTTPStatus, KindHTTPBody:
		parsed, err := url.Parse(cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("invalid probe target: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("probe target %q must be an http(s) URL", cfg.Target)
		}
		if cfg.Kind == KindHTTPBody && (cfg.Field == "" || cfg.Equals == "") {
			return nil, errors.New("http_body probe requires field and equals")
		}
		if p.http == nil {
			p.http = cleanhttp.DefaultPooledClient()
		}
	case KindTCP:
		if _, _, err := net.SplitHostPort(cfg.Target); err != nil {
			return nil, fmt.Errorf("tcp probe target must be host:port: %w", err)
		}
		if p.dialer == nil {
			p.dialer = &net.Dialer{}
		}
	case KindContainer:
		if p.runtime == nil {
			return nil, errors.New("container probe requires a container runtime")
		}
	default:
		return nil, fmt.Errorf("unknown probe kind %q", cfg.Kind)
	}

	return p, nil
}

// Kind returns the probe kind.
func (p *Probe) Kind() Kind {
	return p.cfg.Kind
}

func (p *Probe) String() string {
	return fmt.Sprintf("%s %s", p.cfg.Kind, p.cfg.Target)
}

// Evaluate performs exactly one check bounded by the probe timeout.
func (p *Probe) Evaluate(ctx context.Context) Outcome {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var outcome Outcome
	switch p.cfg.Kind {
	case KindHTTPStatus:
		outcome = p.evaluateHTTPStatus(ctx)
	case KindHTTPBody:
		outcome = p.evaluateHTTPBody(ctx)
	case KindTCP:
		outcome = p.evaluateTCP(ctx)
	case KindContainer:
		outcome = p.evaluateContainer(ctx)
	default:
		return malformed("unknown probe kind", fmt.Errorf("kind %q", p.cfg.Kind))
	}

	if outcome.Status != StatusReady && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return notReady(fmt.Sprintf("timed out after %s", p.cfg.Timeout), ctx.Err())
	}
	return outcome
}

func (p *Probe) evaluateTCP(ctx context.Context) Outcome {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.cfg.Target)
	if err != nil {
		return notReady("connect failed", err)
	}
	_ = conn.Close()
	return ready("connected")
}

func (p *Probe) evaluateContainer(ctx context.Context) Outcome {
	status, err := p.runtime.ContainerStatus(ctx, p.cfg.Target)
	if err != nil {
		return notReady("container runtime query failed", err)
	}
	switch {
	case !status.Exists:
		return notReady("container not created", nil)
	case !status.Running:
		return notReady(fmt.Sprintf("container %s", status.State), nil)
	case !status.Live():
		return notReady(fmt.Sprintf("container health %s", status.Health), nil)
	}
	return ready("container running")
}
