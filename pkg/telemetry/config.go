package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the telemetry settings of the orchestrator process.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path opened for appending.
	Output string `validate:"required"`

	// EnableCaller adds file:line to every entry.
	EnableCaller bool
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool
	Exporter     string  `validate:"required_if=Enabled true,omitempty,oneof=otlp stdout none"`
	Endpoint     string  `validate:"required_if=Exporter otlp"`
	SamplingRate float64 `validate:"gte=0,lte=1"`

	MaxExportBatchSize int
	ExportTimeout      time.Duration

	// Headers are sent with every OTLP export, e.g. collector credentials.
	Headers  map[string]string
	Insecure bool
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress starts a dedicated metrics listener. When empty, metrics
	// are served by the API router.
	ListenAddress string
	Path          string

	Namespace string

	// DefaultHistogramBuckets are the remote call latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the lifecycle event publisher.
type EventsConfig struct {
	Enabled       bool
	BufferSize    int `validate:"required_if=Enabled true,omitempty,gt=0"`
	FlushInterval time.Duration
	MaxBatchSize  int

	// EnableAsync delivers events from a background goroutine.
	EnableAsync bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "byoc-orchestrator",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			Output:       "stdout",
			EnableCaller: true,
		},
		Tracing: TracingConfig{
			Enabled:            true,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "byoc",
			// Remote engine calls run from tens of milliseconds to tens of seconds.
			DefaultHistogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

var validate = validator.New()

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
