package runtime

import (
	"context"

	dockertypes "github.com/docker/docker/api/types"
)

// dockerAPI is the subset of Docker client operations used by DockerClient,
// so tests can run without a daemon.
type dockerAPI interface {
	Ping(ctx context.Context) (dockertypes.Ping, error)
	ContainerInspect(ctx context.Context, containerID string) (dockertypes.ContainerJSON, error)
	Close() error
}
