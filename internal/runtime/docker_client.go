package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

const defaultAPITimeout = 5 * time.Second

// DockerClient implements Client using the official Docker Go SDK.
type DockerClient struct {
	api     dockerAPI
	timeout time.Duration
}

var _ Client = (*DockerClient)(nil)

// NewDockerClient initializes a Docker client for the given API host. An
// empty host falls back to DOCKER_HOST and the SDK defaults.
func NewDockerClient(host string, timeout time.Duration) (*DockerClient, error) {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	// WithHost needs the SDK's own *http.Transport.
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
		client.WithTimeout(timeout),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}

	return &DockerClient{
		api:     api,
		timeout: timeout,
	}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *DockerClient) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errors.New("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.api.Ping(ctx)
	return err
}

// ContainerStatus inspects the named container.
func (c *DockerClient) ContainerStatus(ctx context.Context, name string) (ContainerStatus, error) {
	if c == nil || c.api == nil {
		return ContainerStatus{}, errors.New("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	inspect, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerStatus{Name: name}, nil
		}
		return ContainerStatus{}, fmt.Errorf("inspect container %q: %w", name, err)
	}

	status := ContainerStatus{Name: name, Exists: true}
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return status, nil
	}
	status.Running = inspect.State.Running
	status.State = inspect.State.Status
	if inspect.State.Health != nil {
		status.Health = inspect.State.Health.Status
	}
	return status, nil
}

// Close releases the underlying HTTP transport.
func (c *DockerClient) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}
