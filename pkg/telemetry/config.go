// Package telemetry bundles the observability surfaces of kindler:
// structured logging (zerolog), Prometheus metrics, OpenTelemetry traces
// and the in-process result event stream.
package telemetry

import "time"

// Config aggregates all telemetry configuration.
type Config struct {
	// ServiceName identifies this binary in traces and metrics.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Environment names the deployment environment (dev, staging, prod).
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the diagnostic log.
type LoggingConfig struct {
	// Level is the minimum level (trace, debug, info, warn, error).
	Level string

	// Format selects console or json output.
	Format string

	// Output is stdout, stderr or a file path.
	Output string
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool

	// Exporter selects otlp, stdout or none.
	Exporter string

	// Endpoint is the OTLP gRPC collector endpoint.
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// SamplingRate is the trace sampling ratio (0.0 to 1.0).
	SamplingRate float64

	// ExportTimeout bounds batch export.
	ExportTimeout time.Duration
}

// MetricsConfig configures Prometheus collection.
type MetricsConfig struct {
	Enabled bool

	// Namespace prefixes every metric name.
	Namespace string
}

// EventsConfig configures the result event stream.
type EventsConfig struct {
	// BufferSize is the publisher's channel capacity.
	BufferSize int
}

// DefaultConfig returns a configuration suitable for CLI use: console
// logs at info, metrics on, tracing off.
func DefaultConfig(serviceName, version, environment string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    environment,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "kindler",
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
	}
}
