// Package config provides configuration loading and validation for crankloop.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// Config is the complete run configuration.
type Config struct {
	Concurrency        int           `mapstructure:"concurrency"`
	Iterations         int           `mapstructure:"iterations"`
	RampUp             time.Duration `mapstructure:"ramp-up"`
	Steps              int           `mapstructure:"steps"`
	HoldFor            time.Duration `mapstructure:"hold-for"`
	Workers            int           `mapstructure:"workers"`
	ResultFileTemplate string        `mapstructure:"result-file-template"`
	Scenario           string        `mapstructure:"scenario"`
	Tests              []string      `mapstructure:"tests"`
	Throughput         float64       `mapstructure:"throughput"`
	MetricsPort        int           `mapstructure:"metrics-port"`
	ActionHandlers     []string      `mapstructure:"action-handlers"`
	JSONOutput         bool          `mapstructure:"json-output"`
	Verbose            bool          `mapstructure:"verbose"`
	Tracing            TracingConfig `mapstructure:"tracing"`
	ConfigFile         string        `mapstructure:"-"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	// Propagate overrides whether W3C trace headers are sent. Unset means
	// "when tracing is enabled".
	Propagate *bool `mapstructure:"propagate"`
}

// Enabled reports whether an exporter endpoint is configured, directly or
// through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context should be injected into
// outgoing requests.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// DefaultResultFileTemplate names each process's result file by its index.
const DefaultResultFileTemplate = "result-%d.csv"

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Concurrency:        1,
		ResultFileTemplate: DefaultResultFileTemplate,
		Tracing:            TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// WorkerCount is the number of worker processes to start. Zero workers
// means one per CPU, never more than one per lane.
func (c Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return min(c.Concurrency, runtime.NumCPU())
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.Concurrency > 500 {
		fmt.Fprintf(os.Stderr, "WARNING: High concurrency configured (%d lanes). Ensure you have authorization to test the target system.\n", c.Concurrency)
	}

	if c.Concurrency < 1 {
		issues = append(issues, "concurrency must be at least 1")
	}
	if c.Iterations < 0 {
		issues = append(issues, "iterations must be non-negative")
	}
	if c.Steps < 0 {
		issues = append(issues, "steps must be non-negative")
	}
	if c.RampUp < 0 {
		issues = append(issues, "ramp-up must be non-negative")
	}
	if c.HoldFor < 0 {
		issues = append(issues, "hold-for must be non-negative")
	}
	if c.Workers < 0 {
		issues = append(issues, "workers must be non-negative")
	} else if c.Concurrency >= 1 && c.WorkerCount() > c.Concurrency {
		issues = append(issues, fmt.Sprintf("workers (%d) cannot exceed concurrency (%d)", c.WorkerCount(), c.Concurrency))
	}
	if n := strings.Count(strings.ReplaceAll(c.ResultFileTemplate, "%%", ""), "%"); n != 1 || !strings.Contains(c.ResultFileTemplate, "%d") {
		issues = append(issues, fmt.Sprintf("result-file-template %q must contain exactly one %%d", c.ResultFileTemplate))
	}
	if strings.TrimSpace(c.Scenario) == "" {
		issues = append(issues, "scenario is required (use --help for usage information)")
	}
	if c.Throughput < 0 {
		issues = append(issues, "throughput must be non-negative")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		issues = append(issues, "metrics-port must be between 0 and 65535")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing sample_rate must be between 0.0 and 1.0, got %g", c.Tracing.SampleRate))
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q must be grpc or http", c.Tracing.Protocol))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
