package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envServicesFile    = "LB_SERVICES_FILE"
	envServicesTimeout = "LB_SERVICES_TIMEOUT"
	envComposeFile     = "LB_COMPOSE_FILE"
	envComposeProject  = "LB_COMPOSE_PROJECT"
	envDockerHost      = "LB_DOCKER_HOST"
	envRunTimeout      = "LB_RUN_TIMEOUT"
	envWatchInterval   = "LB_WATCH_INTERVAL"
	envCheckRetryDelay = "LB_CHECK_RETRY_DELAY"
	envCallTimeout     = "LB_CALL_TIMEOUT"
	envReportPath      = "LB_REPORT_PATH"
	envLogLevel        = "LB_LOG_LEVEL"
	envHealthPort      = "LB_HEALTH_PORT"
	envMetricsPort     = "LB_METRICS_PORT"
	envSlackWebhookURL = "LB_SLACK_WEBHOOK_URL"
	envWebhookURL      = "LB_WEBHOOK_URL"
	envWebhookTemplate = "LB_WEBHOOK_TEMPLATE"
	envNotifyDryRun    = "LB_NOTIFY_DRY_RUN"
)

const (
	defaultServicesFile    = "services.yml"
	defaultServicesTimeout = 10 * time.Second
	defaultComposeProject  = "lakehouse"
	defaultRunTimeout      = 10 * time.Minute
	defaultCheckRetryDelay = 2 * time.Second
	defaultCallTimeout     = 10 * time.Second
	defaultReportPath      = ".lakehouse-bootstrap/report.json"
	defaultLogLevel        = "info"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	ServicesFile    string
	ServicesTimeout time.Duration
	ComposeFile     string
	ComposeProject  string
	DockerHost      string
	RunTimeout      time.Duration
	WatchInterval   time.Duration
	CheckRetryDelay time.Duration
	CallTimeout     time.Duration
	ReportPath      string
	LogLevel        string
	HealthPort      int
	MetricsPort     int
	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	NotifyDryRun    bool
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ServicesFile:    defaultServicesFile,
		ServicesTimeout: defaultServicesTimeout,
		ComposeProject:  defaultComposeProject,
		RunTimeout:      defaultRunTimeout,
		CheckRetryDelay: defaultCheckRetryDelay,
		CallTimeout:     defaultCallTimeout,
		ReportPath:      defaultReportPath,
		LogLevel:        defaultLogLevel,
	}

	if value, ok := lookupTrimmed(envServicesFile); ok && value != "" {
		cfg.ServicesFile = value
	}
	if value, ok := lookupTrimmed(envComposeFile); ok {
		cfg.ComposeFile = value
	}
	if value, ok := lookupTrimmed(envComposeProject); ok && value != "" {
		cfg.ComposeProject = value
	}
	if value, ok := lookupTrimmed(envDockerHost); ok {
		cfg.DockerHost = value
	}
	if value, ok := lookupTrimmed(envReportPath); ok {
		cfg.ReportPath = value
	}
	if value, ok := lookupTrimmed(envLogLevel); ok && value != "" {
		cfg.LogLevel = value
	}
	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}
	if value, ok := lookupTrimmed(envWebhookURL); ok {
		cfg.WebhookURL = value
	}
	if value, ok := os.LookupEnv(envWebhookTemplate); ok {
		cfg.WebhookTemplate = value
	}

	var err error
	if cfg.ServicesTimeout, err = positiveDuration(envServicesTimeout, cfg.ServicesTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RunTimeout, err = positiveDuration(envRunTimeout, cfg.RunTimeout); err != nil {
		return Config{}, err
	}
	if cfg.CheckRetryDelay, err = positiveDuration(envCheckRetryDelay, cfg.CheckRetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.CallTimeout, err = positiveDuration(envCallTimeout, cfg.CallTimeout); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envWatchInterval); ok && value != "" {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envWatchInterval, err)
		}
		if interval < 0 {
			return Config{}, fmt.Errorf("%s cannot be negative", envWatchInterval)
		}
		cfg.WatchInterval = interval
	}

	if cfg.HealthPort, err = port(envHealthPort); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = port(envMetricsPort); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envNotifyDryRun); ok && value != "" {
		dryRun, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envNotifyDryRun, err)
		}
		cfg.NotifyDryRun = dryRun
	}

	if strings.HasPrefix(cfg.ServicesFile, "http://") || strings.HasPrefix(cfg.ServicesFile, "https://") {
		if err := validateURL(cfg.ServicesFile, envServicesFile); err != nil {
			return Config{}, err
		}
	}
	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURL(cfg.WebhookURL, envWebhookURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.WebhookTemplate != "" && cfg.WebhookURL == "" {
		return Config{}, errors.New("LB_WEBHOOK_TEMPLATE requires LB_WEBHOOK_URL")
	}

	return cfg, nil
}

// Watch reports whether the bootstrapper should keep reconciling.
func (c Config) Watch() bool {
	return c.WatchInterval > 0
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return parsed, nil
}

func port(key string) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 || parsed > 65535 {
		return 0, fmt.Errorf("%s must be between 0 and 65535", key)
	}
	return parsed, nil
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
