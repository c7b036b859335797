// Package config loads the service configuration from a YAML file and
// BYOC_* environment variables.
//
// Secrets (the engine token, the git access token, cloud keys and the Redis
// password) are never read from the file; they come from the environment
// only. Environment values override file values, and file values override
// defaults. The result is validated before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/KshitijBhardwaj18/automation1/pkg/configrepo"
	"github.com/KshitijBhardwaj18/automation1/pkg/orchestrator"
	"github.com/KshitijBhardwaj18/automation1/pkg/policy"
	"github.com/KshitijBhardwaj18/automation1/pkg/queue"
	"github.com/KshitijBhardwaj18/automation1/pkg/remote"
	"github.com/KshitijBhardwaj18/automation1/pkg/stores"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

// Config is the complete service configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	Remote       RemoteConfig       `yaml:"remote"`
	Configs      ConfigsConfig      `yaml:"configs"`
	Queue        QueueConfig        `yaml:"queue"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Policy       PolicyConfig       `yaml:"policy"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// Mode is the gin mode: debug, release or test.
	Mode string `yaml:"mode" validate:"oneof=debug release test"`
}

// StoreConfig configures the job store.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	Path   string `yaml:"path" validate:"required_if=Driver sqlite"`

	// DSN is the Postgres connection string. It may carry a password, so it
	// is read from BYOC_STORE_DSN only.
	DSN string `yaml:"-" validate:"required_if=Driver postgres"`

	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// RemoteConfig configures the remote deployment engine client.
type RemoteConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"required,url"`
	Organization string        `yaml:"organization" validate:"required"`
	Project      string        `yaml:"project" validate:"required"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	RateLimit    float64       `yaml:"rate_limit" validate:"gt=0"`
	RateBurst    int           `yaml:"rate_burst" validate:"gt=0"`

	Source SourceConfig `yaml:"source"`

	Token              string `yaml:"-" validate:"required"`
	AWSAccessKeyID     string `yaml:"-"`
	AWSSecretAccessKey string `yaml:"-" validate:"required_with=AWSAccessKeyID"`
}

// SourceConfig is the git location of the infrastructure program.
type SourceConfig struct {
	RepoURL string `yaml:"repo_url" validate:"required"`
	Branch  string `yaml:"branch" validate:"required"`
	RepoDir string `yaml:"repo_dir" validate:"required"`

	AccessToken string `yaml:"-"`
}

// ConfigsConfig configures the customer parameter snapshot repository.
type ConfigsConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file s3"`
	Dir     string `yaml:"dir" validate:"required_if=Backend file"`

	S3 S3Config `yaml:"s3"`
}

// S3Config configures the S3 snapshot backend.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint" validate:"omitempty,url"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// QueueConfig configures the background task queue.
type QueueConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory redis"`
	Workers int    `yaml:"workers" validate:"gt=0,lte=64"`
	Buffer  int    `yaml:"buffer" validate:"gt=0"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis queue backend.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	DB     int    `yaml:"db" validate:"gte=0"`
	Prefix string `yaml:"prefix"`

	Password string `yaml:"-"`
}

// OrchestratorConfig tunes the deployment state machine.
type OrchestratorConfig struct {
	ReconcileTimeout     time.Duration `yaml:"reconcile_timeout" validate:"gt=0"`
	RemoveStackOnDestroy bool          `yaml:"remove_stack_on_destroy"`
	EventLimit           int           `yaml:"event_limit" validate:"gt=0"`

	// RecoverOnStart runs the recovery sweep when the server starts.
	RecoverOnStart bool `yaml:"recover_on_start"`
}

// PolicyConfig configures admission policies. They are off unless enabled.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Paths lists extra .rego or .json policy files and directories.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Watch reloads Paths when files change.
	Watch bool `yaml:"watch"`

	AllowedRegions []string `yaml:"allowed_regions" validate:"dive,required"`
	MaxNodes       int      `yaml:"max_nodes" validate:"gte=0"`
}

// TelemetryConfig configures logging, tracing and metrics.
type TelemetryConfig struct {
	Environment     string  `yaml:"environment"`
	LogLevel        string  `yaml:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat       string  `yaml:"log_format" validate:"oneof=console json"`
	TracingExporter string  `yaml:"tracing_exporter" validate:"oneof=none stdout otlp"`
	TracingEndpoint string  `yaml:"tracing_endpoint" validate:"required_if=TracingExporter otlp"`
	SamplingRate    float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	MetricsAddress  string  `yaml:"metrics_address"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Mode:            "release",
		},
		Store: StoreConfig{
			Driver:          stores.DriverSQLite,
			Path:            "byoc.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Remote: RemoteConfig{
			BaseURL:   remote.DefaultBaseURL,
			Project:   "byoc-platform",
			Timeout:   remote.DefaultTimeout,
			RateLimit: 10,
			RateBurst: 20,
			Source: SourceConfig{
				Branch:  "main",
				RepoDir: ".",
			},
		},
		Configs: ConfigsConfig{
			Backend: "file",
			Dir:     "customer-configs",
		},
		Queue: QueueConfig{
			Backend: queue.BackendMemory,
			Workers: 4,
			Buffer:  256,
			Redis: RedisConfig{
				Prefix: "byoc:tasks:",
			},
		},
		Orchestrator: OrchestratorConfig{
			ReconcileTimeout: 15 * time.Second,
			EventLimit:       200,
			RecoverOnStart:   true,
		},
		Policy: PolicyConfig{
			MaxNodes: 100,
		},
		Telemetry: TelemetryConfig{
			Environment:     "production",
			LogLevel:        "info",
			LogFormat:       "json",
			TracingExporter: "none",
			SamplingRate:    1.0,
			MetricsEnabled:  true,
		},
	}
}

// Load reads the file at path (if not empty), applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	return load(path, (*Config).Validate)
}

// LoadLocal is Load for commands that never reach the remote engine. Only the
// store, configuration repository and telemetry sections are validated.
func LoadLocal(path string) (*Config, error) {
	return load(path, (*Config).ValidateLocal)
}

func load(path string, check func(*Config) error) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := check(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// decode unmarshals YAML over cfg, rejecting unknown keys.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Configs.Backend == "s3" && c.Configs.S3.Bucket == "" {
		return fmt.Errorf("configs.s3.bucket is required for the s3 backend")
	}
	if c.Queue.Backend == queue.BackendRedis && c.Queue.Redis.Addr == "" {
		return fmt.Errorf("queue.redis.addr is required for the redis backend")
	}
	return nil
}

// ValidateLocal checks only the sections needed by commands that do not
// talk to the remote engine.
func (c *Config) ValidateLocal() error {
	if err := validate.Struct(c.Store); err != nil {
		return err
	}
	if err := validate.Struct(c.Configs); err != nil {
		return err
	}
	return validate.Struct(c.Telemetry)
}

// JobStoreConfig returns the job store configuration.
func (c *Config) JobStoreConfig() stores.Config {
	return stores.Config{
		Driver:          c.Store.Driver,
		Path:            c.Store.Path,
		DSN:             c.Store.DSN,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnMaxLifetime,
	}
}

// RepositoryConfig returns the parameter snapshot repository configuration.
// The S3 backend reuses the engine's AWS credentials when they are set.
func (c *Config) RepositoryConfig() configrepo.Config {
	return configrepo.Config{
		Backend: c.Configs.Backend,
		Dir:     c.Configs.Dir,
		S3: configrepo.S3Config{
			Bucket:          c.Configs.S3.Bucket,
			Prefix:          c.Configs.S3.Prefix,
			Region:          c.Configs.S3.Region,
			Endpoint:        c.Configs.S3.Endpoint,
			UsePathStyle:    c.Configs.S3.UsePathStyle,
			AccessKeyID:     c.Remote.AWSAccessKeyID,
			SecretAccessKey: c.Remote.AWSSecretAccessKey,
		},
	}
}

// TaskQueueConfig returns the task queue configuration.
func (c *Config) TaskQueueConfig() queue.Config {
	return queue.Config{
		Backend: c.Queue.Backend,
		Workers: c.Queue.Workers,
		Buffer:  c.Queue.Buffer,
		Redis: queue.RedisConfig{
			Addr:     c.Queue.Redis.Addr,
			Password: c.Queue.Redis.Password,
			DB:       c.Queue.Redis.DB,
			Prefix:   c.Queue.Redis.Prefix,
		},
	}
}

// OrchestratorSettings returns the orchestrator configuration.
func (c *Config) OrchestratorSettings() orchestrator.Config {
	return orchestrator.Config{
		ReconcileTimeout:     c.Orchestrator.ReconcileTimeout,
		RemoveStackOnDestroy: c.Orchestrator.RemoveStackOnDestroy,
		EventLimit:           c.Orchestrator.EventLimit,
	}
}

// PolicyLimits returns the limits handed to admission policies.
func (c *Config) PolicyLimits() policy.Limits {
	return policy.Limits{
		AllowedRegions: append([]string(nil), c.Policy.AllowedRegions...),
		MaxNodes:       c.Policy.MaxNodes,
	}
}

// RemoteOptions returns the client options for the remote engine.
func (c *Config) RemoteOptions(tel *telemetry.Telemetry) []remote.ClientOption {
	return []remote.ClientOption{
		remote.WithBaseURL(c.Remote.BaseURL),
		remote.WithTimeout(c.Remote.Timeout),
		remote.WithRateLimiter(c.Remote.RateLimit, c.Remote.RateBurst),
		remote.WithSource(remote.Source{
			RepoURL:     c.Remote.Source.RepoURL,
			Branch:      c.Remote.Source.Branch,
			RepoDir:     c.Remote.Source.RepoDir,
			AccessToken: c.Remote.Source.AccessToken,
		}),
		remote.WithCredentials(remote.Credentials{
			AccessKeyID:     c.Remote.AWSAccessKeyID,
			SecretAccessKey: c.Remote.AWSSecretAccessKey,
		}),
		remote.WithTelemetry(tel),
	}
}

// TelemetrySettings returns the telemetry configuration.
func (c *Config) TelemetrySettings(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Environment = c.Telemetry.Environment
	cfg.Logging.Level = c.Telemetry.LogLevel
	cfg.Logging.Format = c.Telemetry.LogFormat

	cfg.Tracing.Enabled = c.Telemetry.TracingExporter != "none"
	cfg.Tracing.Exporter = c.Telemetry.TracingExporter
	cfg.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	cfg.Tracing.SamplingRate = c.Telemetry.SamplingRate

	cfg.Metrics.Enabled = c.Telemetry.MetricsEnabled
	cfg.Metrics.ListenAddress = c.Telemetry.MetricsAddress
	return cfg
}
