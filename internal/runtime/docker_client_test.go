package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/errdefs"
)

type mockDockerAPI struct {
	pingFn    func(ctx context.Context) (dockertypes.Ping, error)
	inspectFn func(ctx context.Context, id string) (dockertypes.ContainerJSON, error)
	closed    bool
}

func (m *mockDockerAPI) Ping(ctx context.Context) (dockertypes.Ping, error) {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return dockertypes.Ping{}, nil
}

func (m *mockDockerAPI) ContainerInspect(ctx context.Context, id string) (dockertypes.ContainerJSON, error) {
	if m.inspectFn != nil {
		return m.inspectFn(ctx, id)
	}
	return dockertypes.ContainerJSON{}, nil
}

func (m *mockDockerAPI) Close() error {
	m.closed = true
	return nil
}

func inspectWithState(state *dockertypes.ContainerState) dockertypes.ContainerJSON {
	return dockertypes.ContainerJSON{
		ContainerJSONBase: &dockertypes.ContainerJSONBase{State: state},
	}
}

func TestDockerClientPingSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	t.Cleanup(server.Close)

	client, err := NewDockerClient(server.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewDockerClient error: %v", err)
	}

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}

func TestNewDockerClientAcceptsHosts(t *testing.T) {
	t.Parallel()

	hosts := []string{
		"",
		"unix:///var/run/docker.sock",
		"tcp://127.0.0.1:2375",
	}
	for _, host := range hosts {
		client, err := NewDockerClient(host, time.Second)
		if err != nil {
			t.Fatalf("NewDockerClient(%q) error: %v", host, err)
		}
		if err := client.Close(); err != nil {
			t.Fatalf("Close(%q) error: %v", host, err)
		}
	}
}

func TestDockerClient_Ping_Error(t *testing.T) {
	t.Parallel()

	mock := &mockDockerAPI{
		pingFn: func(ctx context.Context) (dockertypes.Ping, error) {
			return dockertypes.Ping{}, errors.New("connection refused")
		},
	}

	client := &DockerClient{api: mock, timeout: time.Second}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestDockerClient_ContainerStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		inspect  dockertypes.ContainerJSON
		err      error
		wantLive bool
		wantErr  bool
		exists   bool
	}{
		{
			name:     "running without healthcheck",
			inspect:  inspectWithState(&dockertypes.ContainerState{Running: true, Status: "running"}),
			wantLive: true,
			exists:   true,
		},
		{
			name: "running but starting",
			inspect: inspectWithState(&dockertypes.ContainerState{
				Running: true,
				Status:  "running",
				Health:  &dockertypes.Health{Status: "starting"},
			}),
			exists: true,
		},
		{
			name: "healthy",
			inspect: inspectWithState(&dockertypes.ContainerState{
				Running: true,
				Status:  "running",
				Health:  &dockertypes.Health{Status: "healthy"},
			}),
			wantLive: true,
			exists:   true,
		},
		{
			name:    "exited",
			inspect: inspectWithState(&dockertypes.ContainerState{Status: "exited"}),
			exists:  true,
		},
		{
			name: "missing",
			err:  errdefs.NotFound(errors.New("no such container")),
		},
		{
			name:    "daemon error",
			err:     errors.New("daemon unavailable"),
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := &mockDockerAPI{
				inspectFn: func(ctx context.Context, id string) (dockertypes.ContainerJSON, error) {
					if id != "minio" {
						t.Fatalf("unexpected container %q", id)
					}
					return tc.inspect, tc.err
				},
			}
			client := &DockerClient{api: mock, timeout: time.Second}

			status, err := client.ContainerStatus(context.Background(), "minio")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status.Exists != tc.exists {
				t.Fatalf("Exists = %v, want %v", status.Exists, tc.exists)
			}
			if status.Live() != tc.wantLive {
				t.Fatalf("Live() = %v, want %v (%+v)", status.Live(), tc.wantLive, status)
			}
		})
	}
}

func TestDockerClient_Close(t *testing.T) {
	mock := &mockDockerAPI{}
	client := &DockerClient{api: mock, timeout: time.Second}
	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !mock.closed {
		t.Fatalf("expected underlying client to be closed")
	}
}
