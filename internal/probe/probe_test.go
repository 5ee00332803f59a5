package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nholik/lakehouse-bootstrap/internal/runtime"
)

func mustProbe(t *testing.T, cfg Config, opts ...Option) *Probe {
	t.Helper()
	p, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return p
}

func TestHTTPStatusProbe(t *testing.T) {
	cases := []struct {
		name   string
		status int
		expect []int
		want   Status
	}{
		{name: "ok", status: http.StatusOK, want: StatusReady},
		{name: "no content", status: http.StatusNoContent, want: StatusReady},
		{name: "server error", status: http.StatusServiceUnavailable, want: StatusNotReady},
		{name: "not found", status: http.StatusNotFound, want: StatusNotReady},
		{name: "explicit expectation", status: http.StatusUnauthorized, expect: []int{401}, want: StatusReady},
		{name: "explicit mismatch", status: http.StatusOK, expect: []int{204}, want: StatusNotReady},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			p := mustProbe(t, Config{Kind: KindHTTPStatus, Target: server.URL, Timeout: time.Second, ExpectStatus: tc.expect})
			if got := p.Evaluate(context.Background()); got.Status != tc.want {
				t.Fatalf("status = %s, want %s (%s)", got.Status, tc.want, got.Detail)
			}
		})
	}
}

func TestHTTPStatusProbe_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := server.URL
	server.Close()

	p := mustProbe(t, Config{Kind: KindHTTPStatus, Target: target, Timeout: time.Second})
	got := p.Evaluate(context.Background())
	if got.Status != StatusNotReady {
		t.Fatalf("status = %s, want not-ready", got.Status)
	}
	if got.Err == nil {
		t.Fatalf("expected underlying error")
	}
}

func TestHTTPStatusProbe_TimeoutIsNotReady(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p := mustProbe(t, Config{Kind: KindHTTPStatus, Target: server.URL, Timeout: 50 * time.Millisecond})

	start := time.Now()
	got := p.Evaluate(context.Background())
	if got.Status != StatusNotReady {
		t.Fatalf("status = %s, want not-ready", got.Status)
	}
	if !strings.Contains(got.Detail, "timed out") {
		t.Fatalf("expected timeout detail, got %q", got.Detail)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("probe blocked for %v", elapsed)
	}
}

func TestHTTPBodyProbe(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		field  string
		equals string
		want   Status
	}{
		{name: "match", body: `{"status":"UP"}`, field: "status", equals: "UP", want: StatusReady},
		{name: "nested match", body: `{"checks":{"db":{"ok":true}}}`, field: "checks.db.ok", equals: "true", want: StatusReady},
		{name: "numeric", body: `{"replicas":3}`, field: "replicas", equals: "3", want: StatusReady},
		{name: "mismatch", body: `{"status":"STARTING"}`, field: "status", equals: "UP", want: StatusNotReady},
		{name: "missing", body: `{"other":"UP"}`, field: "status", equals: "UP", want: StatusNotReady},
		{name: "not json", body: `<html>ok</html>`, field: "status", equals: "UP", want: StatusError},
		{name: "object leaf", body: `{"status":{"a":1}}`, field: "status", equals: "UP", want: StatusError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			p := mustProbe(t, Config{Kind: KindHTTPBody, Target: server.URL, Field: tc.field, Equals: tc.equals})
			if got := p.Evaluate(context.Background()); got.Status != tc.want {
				t.Fatalf("status = %s, want %s (%s)", got.Status, tc.want, got.Detail)
			}
		})
	}
}

func TestHTTPBodyProbe_ServerErrorIsNotReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream not ready"))
	}))
	defer server.Close()

	p := mustProbe(t, Config{Kind: KindHTTPBody, Target: server.URL, Field: "status", Equals: "UP"})
	if got := p.Evaluate(context.Background()); got.Status != StatusNotReady {
		t.Fatalf("status = %s, want not-ready", got.Status)
	}
}

func TestTCPProbe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	p := mustProbe(t, Config{Kind: KindTCP, Target: listener.Addr().String(), Timeout: time.Second})
	if got := p.Evaluate(context.Background()); got.Status != StatusReady {
		t.Fatalf("status = %s, want ready (%v)", got.Status, got.Err)
	}
}

type fakeDialer struct {
	err error
}

func (d fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, d.err
}

func TestTCPProbe_RefusedIsNotReady(t *testing.T) {
	p := mustProbe(t, Config{Kind: KindTCP, Target: "localhost:32010"}, WithDialer(fakeDialer{err: errors.New("connection refused")}))
	if got := p.Evaluate(context.Background()); got.Status != StatusNotReady {
		t.Fatalf("status = %s, want not-ready", got.Status)
	}
}

type fakeRuntime struct {
	status runtime.ContainerStatus
	err    error
}

func (f fakeRuntime) Ping(context.Context) error { return nil }
func (f fakeRuntime) Close() error               { return nil }
func (f fakeRuntime) ContainerStatus(_ context.Context, name string) (runtime.ContainerStatus, error) {
	status := f.status
	status.Name = name
	return status, f.err
}

func TestContainerProbe(t *testing.T) {
	cases := []struct {
		name    string
		runtime fakeRuntime
		want    Status
	}{
		{name: "running", runtime: fakeRuntime{status: runtime.ContainerStatus{Exists: true, Running: true}}, want: StatusReady},
		{name: "healthy", runtime: fakeRuntime{status: runtime.ContainerStatus{Exists: true, Running: true, Health: "healthy"}}, want: StatusReady},
		{name: "unhealthy", runtime: fakeRuntime{status: runtime.ContainerStatus{Exists: true, Running: true, Health: "unhealthy"}}, want: StatusNotReady},
		{name: "exited", runtime: fakeRuntime{status: runtime.ContainerStatus{Exists: true, State: "exited"}}, want: StatusNotReady},
		{name: "missing", runtime: fakeRuntime{}, want: StatusNotReady},
		{name: "daemon error", runtime: fakeRuntime{err: errors.New("daemon down")}, want: StatusNotReady},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := mustProbe(t, Config{Kind: KindContainer, Target: "nessie"}, WithRuntime(tc.runtime))
			if got := p.Evaluate(context.Background()); got.Status != tc.want {
				t.Fatalf("status = %s, want %s (%s)", got.Status, tc.want, got.Detail)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		opts []Option
	}{
		{name: "missing target", cfg: Config{Kind: KindHTTPStatus}},
		{name: "bad scheme", cfg: Config{Kind: KindHTTPStatus, Target: "ftp://minio"}},
		{name: "body without field", cfg: Config{Kind: KindHTTPBody, Target: "http://nessie:19120"}},
		{name: "tcp without port", cfg: Config{Kind: KindTCP, Target: "dremio"}},
		{name: "container without runtime", cfg: Config{Kind: KindContainer, Target: "dremio"}},
		{name: "unknown kind", cfg: Config{Kind: "grpc", Target: "dremio:32010"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, tc.opts...); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
