package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
)

// DefaultProject is the project name used when the compose file does not
// declare one.
const DefaultProject = "lakehouse"

// Container is what the bootstrapper needs to know about one compose
// service to probe it through the container runtime.
type Container struct {
	Service        string
	Name           string
	Image          string
	HasHealthcheck bool
}

// Project maps compose service names to their containers.
type Project struct {
	Name       string
	Containers map[string]Container
}

// Lookup returns the container for a compose service.
func (p Project) Lookup(service string) (Container, bool) {
	c, ok := p.Containers[service]
	return c, ok
}

// Services returns the compose service names in sorted order.
func (p Project) Services() []string {
	names := make([]string, 0, len(p.Containers))
	for name := range p.Containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads and resolves the compose file at path.
func LoadFile(ctx context.Context, path, project string) (Project, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Project{}, fmt.Errorf("read compose file: %w", err)
	}
	return ResolveContainers(ctx, body, filepath.Dir(path), project)
}

// ResolveContainers parses compose content and derives each service's
// container name: container_name when set, otherwise the compose v2
// default <project>-<service>-1.
func ResolveContainers(ctx context.Context, body []byte, workingDir, project string) (Project, error) {
	if len(body) == 0 {
		return Project{}, errors.New("compose body is empty")
	}
	if project == "" {
		project = DefaultProject
	}
	if workingDir == "" {
		workingDir = "."
	}

	details := types.ConfigDetails{
		WorkingDir: workingDir,
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "compose.yml",
				Content:  body,
			},
		},
		Environment: types.NewMapping(os.Environ()),
	}

	loaded, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName(project, false)
		opts.SkipResolveEnvironment = true
	})
	if err != nil {
		return Project{}, fmt.Errorf("load compose: %w", err)
	}
	if len(loaded.Services) == 0 {
		return Project{}, errors.New("compose has no services")
	}

	result := Project{
		Name:       loaded.Name,
		Containers: make(map[string]Container, len(loaded.Services)),
	}
	for name, service := range loaded.Services {
		containerName := service.ContainerName
		if containerName == "" {
			containerName = fmt.Sprintf("%s-%s-1", loaded.Name, name)
		}
		result.Containers[name] = Container{
			Service:        name,
			Name:           containerName,
			Image:          service.Image,
			HasHealthcheck: service.HealthCheck != nil && !service.HealthCheck.Disable,
		}
	}

	return result, nil
}
