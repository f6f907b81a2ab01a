package config

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// secondsValue is a duration flag that also takes bare seconds ("60",
// "1.5"), the way the configuration file does.
type secondsValue time.Duration

func (d *secondsValue) Set(s string) error {
	v, err := asDuration(s)
	if err != nil {
		return err
	}
	*d = secondsValue(v)
	return nil
}

func (d *secondsValue) String() string { return time.Duration(*d).String() }
func (d *secondsValue) Type() string { return "duration" }

func secondsFlag(flags *pflag.FlagSet, name string) (time.Duration, bool) {
	f := flags.Lookup(name)
	if f == nil || !f.Changed {
		return 0, false
	}
	v, ok := f.Value.(*secondsValue)
	if !ok {
		return 0, false
	}
	return time.Duration(*v), true
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Load shape
	flags.IntP("concurrency", "c", 1, "Total number of concurrent lanes across all workers")
	flags.IntP("iterations", "i", 0, "Iterations per lane (0 means unbounded: until hold-for elapses or the data runs out)")
	flags.VarP(new(secondsValue), "ramp-up", "r", "Window over which lanes are started, in seconds or as a duration (e.g. 30s)")
	flags.Int("steps", 0, "Number of ramp-up steps (0 means a smooth ramp)")
	flags.VarP(new(secondsValue), "hold-for", "d", "How long to keep running after ramp-up, in seconds or as a duration")
	flags.IntP("workers", "w", 0, "Number of worker processes (0 means one per CPU, at most one per lane)")
	flags.Float64("throughput", 0, "Iterations per second across the whole run (0 means unpaced)")

	// Scenario
	flags.StringP("scenario", "s", "", "Path to the YAML scenario file")
	flags.StringSlice("action-handler", nil, "Registered action handler to enable (repeatable)")

	// Output
	flags.StringP("result-file-template", "o", DefaultResultFileTemplate, "Result file per worker; must contain one %d (.ldjson selects line-delimited JSON)")
	flags.Bool("json-output", false, "Emit the summary as JSON")
	flags.Int("metrics-port", 0, "Serve Prometheus metrics; worker i listens on port+i (0 disables)")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported with spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of tests to trace, between 0 and 1")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Bool("tracing-propagate", false, "Send W3C trace context headers (defaults to on when tracing is enabled)")
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	intFlags := map[string]*int{
		"concurrency":  &cfg.Concurrency,
		"iterations":   &cfg.Iterations,
		"steps":        &cfg.Steps,
		"workers":      &cfg.Workers,
		"metrics-port": &cfg.MetricsPort,
	}
	for name, dst := range intFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	if val, ok := secondsFlag(fs, "ramp-up"); ok {
		cfg.RampUp = val
	}
	if val, ok := secondsFlag(fs, "hold-for"); ok {
		cfg.HoldFor = val
	}
	if fs.Changed("throughput") {
		val, err := fs.GetFloat64("throughput")
		if err != nil {
			return err
		}
		cfg.Throughput = val
	}
	if fs.Changed("scenario") {
		val, err := fs.GetString("scenario")
		if err != nil {
			return err
		}
		cfg.Scenario = val
	}
	if fs.Changed("action-handler") {
		val, err := fs.GetStringSlice("action-handler")
		if err != nil {
			return err
		}
		cfg.ActionHandlers = val
	}
	if fs.Changed("result-file-template") {
		val, err := fs.GetString("result-file-template")
		if err != nil {
			return err
		}
		cfg.ResultFileTemplate = strings.TrimSpace(val)
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("verbose") {
		val, err := fs.GetBool("verbose")
		if err != nil {
			return err
		}
		cfg.Verbose = val
	}

	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = val
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = val
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		cfg.Tracing.ServiceName = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}
	return nil
}
