package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lookupFunc matches os.LookupEnv.
type lookupFunc func(string) (string, bool)

type envBinding struct {
	names []string
	set   func(cfg *Config, value string) error
}

func str(target func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*target(cfg) = v
		return nil
	}
}

func integer(target func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*target(cfg) = n
		return nil
	}
}

func duration(target func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*target(cfg) = d
		return nil
	}
}

func boolean(target func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*target(cfg) = b
		return nil
	}
}

// list splits a comma separated value, dropping empty items.
func list(target func(*Config) *[]string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*target(cfg) = items
		return nil
	}
}

// envBindings maps environment variables onto configuration fields. When a
// binding lists several names the first one set wins.
var envBindings = []envBinding{
	{[]string{"BYOC_SERVER_ADDRESS"}, str(func(c *Config) *string { return &c.Server.Address })},
	{[]string{"BYOC_SERVER_MODE"}, str(func(c *Config) *string { return &c.Server.Mode })},

	{[]string{"BYOC_STORE_DRIVER"}, str(func(c *Config) *string { return &c.Store.Driver })},
	{[]string{"BYOC_STORE_PATH"}, str(func(c *Config) *string { return &c.Store.Path })},
	{[]string{"BYOC_STORE_DSN", "DATABASE_URL"}, str(func(c *Config) *string { return &c.Store.DSN })},

	{[]string{"BYOC_REMOTE_BASE_URL"}, str(func(c *Config) *string { return &c.Remote.BaseURL })},
	{[]string{"BYOC_REMOTE_ORGANIZATION", "PULUMI_ORG"}, str(func(c *Config) *string { return &c.Remote.Organization })},
	{[]string{"BYOC_REMOTE_PROJECT"}, str(func(c *Config) *string { return &c.Remote.Project })},
	{[]string{"BYOC_REMOTE_TIMEOUT"}, duration(func(c *Config) *time.Duration { return &c.Remote.Timeout })},
	{[]string{"BYOC_REMOTE_TOKEN", "PULUMI_ACCESS_TOKEN"}, str(func(c *Config) *string { return &c.Remote.Token })},
	{[]string{"BYOC_SOURCE_REPO_URL"}, str(func(c *Config) *string { return &c.Remote.Source.RepoURL })},
	{[]string{"BYOC_SOURCE_BRANCH"}, str(func(c *Config) *string { return &c.Remote.Source.Branch })},
	{[]string{"BYOC_SOURCE_TOKEN", "GITHUB_TOKEN"}, str(func(c *Config) *string { return &c.Remote.Source.AccessToken })},
	{[]string{"BYOC_AWS_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, str(func(c *Config) *string { return &c.Remote.AWSAccessKeyID })},
	{[]string{"BYOC_AWS_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, str(func(c *Config) *string { return &c.Remote.AWSSecretAccessKey })},

	{[]string{"BYOC_CONFIGS_BACKEND"}, str(func(c *Config) *string { return &c.Configs.Backend })},
	{[]string{"BYOC_CONFIGS_DIR"}, str(func(c *Config) *string { return &c.Configs.Dir })},
	{[]string{"BYOC_CONFIGS_S3_BUCKET"}, str(func(c *Config) *string { return &c.Configs.S3.Bucket })},
	{[]string{"BYOC_CONFIGS_S3_REGION"}, str(func(c *Config) *string { return &c.Configs.S3.Region })},
	{[]string{"BYOC_CONFIGS_S3_ENDPOINT"}, str(func(c *Config) *string { return &c.Configs.S3.Endpoint })},

	{[]string{"BYOC_QUEUE_BACKEND"}, str(func(c *Config) *string { return &c.Queue.Backend })},
	{[]string{"BYOC_QUEUE_WORKERS"}, integer(func(c *Config) *int { return &c.Queue.Workers })},
	{[]string{"BYOC_REDIS_ADDR"}, str(func(c *Config) *string { return &c.Queue.Redis.Addr })},
	{[]string{"BYOC_REDIS_PASSWORD"}, str(func(c *Config) *string { return &c.Queue.Redis.Password })},
	{[]string{"BYOC_REDIS_DB"}, integer(func(c *Config) *int { return &c.Queue.Redis.DB })},

	{[]string{"BYOC_RECONCILE_TIMEOUT"}, duration(func(c *Config) *time.Duration { return &c.Orchestrator.ReconcileTimeout })},
	{[]string{"BYOC_RECOVER_ON_START"}, boolean(func(c *Config) *bool { return &c.Orchestrator.RecoverOnStart })},

	{[]string{"BYOC_POLICY_ENABLED"}, boolean(func(c *Config) *bool { return &c.Policy.Enabled })},
	{[]string{"BYOC_POLICY_PATHS"}, list(func(c *Config) *[]string { return &c.Policy.Paths })},
	{[]string{"BYOC_POLICY_ALLOWED_REGIONS"}, list(func(c *Config) *[]string { return &c.Policy.AllowedRegions })},
	{[]string{"BYOC_POLICY_MAX_NODES"}, integer(func(c *Config) *int { return &c.Policy.MaxNodes })},

	{[]string{"BYOC_ENVIRONMENT"}, str(func(c *Config) *string { return &c.Telemetry.Environment })},
	{[]string{"BYOC_LOG_LEVEL", "LOG_LEVEL"}, str(func(c *Config) *string { return &c.Telemetry.LogLevel })},
	{[]string{"BYOC_LOG_FORMAT"}, str(func(c *Config) *string { return &c.Telemetry.LogFormat })},
	{[]string{"BYOC_TRACING_EXPORTER"}, str(func(c *Config) *string { return &c.Telemetry.TracingExporter })},
	{[]string{"BYOC_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, str(func(c *Config) *string { return &c.Telemetry.TracingEndpoint })},
	{[]string{"BYOC_METRICS_ENABLED"}, boolean(func(c *Config) *bool { return &c.Telemetry.MetricsEnabled })},
	{[]string{"BYOC_METRICS_ADDRESS"}, str(func(c *Config) *string { return &c.Telemetry.MetricsAddress })},
}

// applyEnv overrides cfg with the environment variables that are set.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	for _, b := range envBindings {
		for _, name := range b.names {
			value, ok := lookup(name)
			if !ok || strings.TrimSpace(value) == "" {
				continue
			}
			if err := b.set(cfg, strings.TrimSpace(value)); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			break
		}
	}
	return nil
}
