package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nholik/lakehouse-bootstrap/internal/bootstrap"
	"github.com/nholik/lakehouse-bootstrap/internal/compose"
	"github.com/nholik/lakehouse-bootstrap/internal/config"
	"github.com/nholik/lakehouse-bootstrap/internal/definition"
	"github.com/nholik/lakehouse-bootstrap/internal/logging"
	"github.com/nholik/lakehouse-bootstrap/internal/notify"
	"github.com/nholik/lakehouse-bootstrap/internal/runtime"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// environment is what every command needs before doing real work.
type environment struct {
	cfg    config.Config
	logger zerolog.Logger
	source definition.Source
	loaded definition.Loaded
}

func loadEnvironment(ctx context.Context, cmd *cobra.Command, logs io.Writer) (environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return environment{}, invalidConfig(err)
	}
	if cmd.Flags().Changed("services") {
		cfg.ServicesFile, _ = cmd.Flags().GetString("services")
	}

	logger := logging.NewWithWriter(logs, cfg.LogLevel)

	source, err := definition.NewSource(cfg.ServicesFile, cfg.ServicesTimeout)
	if err != nil {
		return environment{}, invalidConfig(err)
	}
	loaded, err := definition.Load(ctx, source, nil)
	if err != nil {
		return environment{}, invalidConfig(err)
	}

	logger.Debug().
		Str("services_file", cfg.ServicesFile).
		Str("fingerprint", loaded.Fingerprint).
		Int("services", len(loaded.File.Services)).
		Msg("services definition parsed")

	return environment{cfg: cfg, logger: logger, source: source, loaded: loaded}, nil
}

// newPlanner wires compose resolution and the container runtime when the
// definition needs them. The returned func releases the runtime client.
func newPlanner(ctx context.Context, env environment) (*bootstrap.Planner, func(), error) {
	opts := []bootstrap.Option{bootstrap.WithCallTimeout(env.cfg.CallTimeout)}
	closer := func() {}

	if env.cfg.ComposeFile != "" {
		project, err := compose.LoadFile(ctx, env.cfg.ComposeFile, env.cfg.ComposeProject)
		if err != nil {
			return nil, closer, fmt.Errorf("load compose file: %w", err)
		}
		env.logger.Debug().
			Str("project", project.Name).
			Strs("compose_services", project.Services()).
			Msg("compose project resolved")
		opts = append(opts, bootstrap.WithProject(project))
	}

	if bootstrap.NeedsRuntime(env.loaded.File) {
		client, err := runtime.NewDockerClient(env.cfg.DockerHost, env.cfg.CallTimeout)
		if err != nil {
			return nil, closer, fmt.Errorf("create docker client: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			env.logger.Warn().Err(err).Msg("docker daemon not reachable yet; container probes will retry")
		}
		closer = func() {
			if err := client.Close(); err != nil {
				env.logger.Debug().Err(err).Msg("docker client close failed")
			}
		}
		opts = append(opts, bootstrap.WithRuntime(client))
	}

	return bootstrap.NewPlanner(env.logger, opts...), closer, nil
}

func newNotifier(cfg config.Config, logger zerolog.Logger) (notify.Notifier, error) {
	notifiers := []notify.Notifier{notify.NewSlackNotifier(logger, cfg.SlackWebhookURL)}

	webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
	if err != nil {
		return nil, err
	}
	if webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	var notifier notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if cfg.NotifyDryRun {
		notifier = notify.NewDryRunNotifier(logger, notifier)
	}
	return notifier, nil
}
