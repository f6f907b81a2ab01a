package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader builds a Config from a configuration file and command-line flags.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// FromFlags builds a Config from an already parsed flag set, such as the one
// cobra hands to a command. Flags override the configuration file.
func (Loader) FromFlags(flagSet *pflag.FlagSet, patterns []string) (*Config, error) {
	configPath := ""
	if f := flagSet.Lookup("config"); f != nil {
		configPath = f.Value.String()
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	if len(patterns) > 0 {
		cfg.Tests = append([]string(nil), patterns...)
	}

	cfg.Scenario = strings.TrimSpace(cfg.Scenario)
	cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(cfg.Tracing.Protocol))
	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	ints := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"concurrency"}, &cfg.Concurrency},
		{[]string{"iterations"}, &cfg.Iterations},
		{[]string{"steps"}, &cfg.Steps},
		{[]string{"workers", "worker-count", "worker_count"}, &cfg.Workers},
		{[]string{"metrics-port", "metrics_port", "metricsport"}, &cfg.MetricsPort},
	}
	for _, item := range ints {
		if raw, ok := lookupSetting(settings, item.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", item.keys[0], err)
			}
			*item.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "ramp-up", "ramp_up", "rampup"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("ramp-up: %w", err)
		}
		cfg.RampUp = dur
	}

	if raw, ok := lookupSetting(settings, "hold-for", "hold_for", "holdfor"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("hold-for: %w", err)
		}
		cfg.HoldFor = dur
	}

	if raw, ok := lookupSetting(settings, "result-file-template", "result_file_template", "resultfiletemplate"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("result-file-template: %w", err)
		}
		if val != "" {
			cfg.ResultFileTemplate = val
		}
	}

	if raw, ok := lookupSetting(settings, "scenario"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("scenario: %w", err)
		}
		cfg.Scenario = val
	}

	if raw, ok := lookupSetting(settings, "tests"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("tests: %w", err)
		}
		cfg.Tests = val
	}

	if raw, ok := lookupSetting(settings, "action-handlers", "action_handlers", "actionhandlers"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("action-handlers: %w", err)
		}
		cfg.ActionHandlers = val
	}

	if raw, ok := lookupSetting(settings, "throughput"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("throughput: %w", err)
		}
		cfg.Throughput = val
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json-output: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "verbose"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("verbose: %w", err)
		}
		cfg.Verbose = val
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

func applyTracingSettings(tc *TracingConfig, raw interface{}) error {
	settings, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}

	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		if tc.Endpoint, err = asString(raw); err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		if tc.Protocol, err = asString(raw); err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "service_name", "service-name", "servicename"); ok {
		if tc.ServiceName, err = asString(raw); err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "sample-rate", "samplerate"); ok {
		if tc.SampleRate, err = asFloat64(raw); err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		if tc.Insecure, err = asBool(raw); err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return nil
}
