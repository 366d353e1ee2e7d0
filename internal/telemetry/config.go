// Package telemetry wraps control-plane dispatch with optional OpenTelemetry
// tracing and bootstraps optional continuous profiling, both no-ops unless
// explicitly configured.
package telemetry

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	// Enabled indicates whether tracing is enabled.
	Enabled bool

	// ServiceName is the name reported to the trace backend.
	ServiceName string

	// ServiceVersion is the version of the running binary.
	ServiceVersion string

	// Endpoint is the OTLP gRPC endpoint (e.g. "localhost:4317").
	Endpoint string

	// Insecure disables TLS on the OTLP connection.
	Insecure bool

	// SampleRate is the trace sampling rate, 0.0 to 1.0.
	SampleRate float64
}

// DefaultConfig returns tracing disabled by default.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "vntsd",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// ProfilingConfig holds Pyroscope continuous profiling configuration.
type ProfilingConfig struct {
	// Enabled controls whether profiling is started.
	Enabled bool

	// ServiceName is the application name shown in Pyroscope.
	ServiceName string

	// ServiceVersion is reported as a profiling tag.
	ServiceVersion string

	// Endpoint is the Pyroscope server URL (e.g. "http://localhost:4040").
	Endpoint string
}
