package runtime

import "context"

// ContainerStatus is the liveness view of one container as reported by the
// process manager.
type ContainerStatus struct {
	Name    string
	Exists  bool
	Running bool
	State   string // created, running, restarting, exited, ...
	Health  string // healthy, unhealthy, starting, or empty without a healthcheck
}

// Live reports whether the container is running and, when it declares a
// healthcheck, healthy.
func (s ContainerStatus) Live() bool {
	if !s.Exists || !s.Running {
		return false
	}
	return s.Health == "" || s.Health == "healthy"
}

// Client queries the container runtime. It never starts or stops anything.
type Client interface {
	// Ping validates connectivity to the runtime.
	Ping(ctx context.Context) error

	// ContainerStatus returns the liveness of the named container. A missing
	// container is reported with Exists=false and no error.
	ContainerStatus(ctx context.Context, name string) (ContainerStatus, error)

	// Close releases resources associated with the client.
	Close() error
}
