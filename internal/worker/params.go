package worker

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/torosent/crankloop/internal/config"
)

// Params is everything one worker process needs. The supervisor builds one
// per process and hands it over as YAML.
type Params struct {
	RunID  string `yaml:"run_id"`
	Worker int    `yaml:"worker"`

	// Concurrency is this process's share of TotalConcurrency; its lanes
	// occupy global indexes LaneOffset..LaneOffset+Concurrency-1.
	Concurrency      int `yaml:"concurrency"`
	TotalConcurrency int `yaml:"total_concurrency"`
	LaneOffset       int `yaml:"lane_offset"`

	Iterations int           `yaml:"iterations"`
	RampUp     time.Duration `yaml:"ramp_up"`
	Steps      int           `yaml:"steps"`
	HoldFor    time.Duration `yaml:"hold_for"`
	// Throughput is the whole run's iteration rate; each process paces at
	// its proportional share.
	Throughput float64 `yaml:"throughput"`

	ReportPath     string   `yaml:"report_path"`
	Scenario       string   `yaml:"scenario"`
	Tests          []string `yaml:"tests"`
	ActionHandlers []string `yaml:"action_handlers"`
	MetricsPort    int      `yaml:"metrics_port"`
	JSONOutput     bool     `yaml:"json_output"`
	Verbose        bool     `yaml:"verbose"`

	Tracing config.TracingConfig `yaml:"tracing"`
}

// ParamsFromConfig returns the run-wide parameters for cfg with a new run ID.
// Per-process fields are filled in by ForSlice.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		RunID:            ulid.Make().String(),
		Concurrency:      cfg.Concurrency,
		TotalConcurrency: cfg.Concurrency,
		Iterations:       cfg.Iterations,
		RampUp:           cfg.RampUp,
		Steps:            cfg.Steps,
		HoldFor:          cfg.HoldFor,
		Throughput:       cfg.Throughput,
		ReportPath:       cfg.ResultFileTemplate,
		Scenario:         cfg.Scenario,
		Tests:            append([]string(nil), cfg.Tests...),
		ActionHandlers:   append([]string(nil), cfg.ActionHandlers...),
		MetricsPort:      cfg.MetricsPort,
		JSONOutput:       cfg.JSONOutput,
		Verbose:          cfg.Verbose,
		Tracing:          cfg.Tracing,
	}
}

// ForSlice returns a copy of p for process index running share lanes
// starting at global lane offset. ReportPath is treated as a template with
// one %d for the process index.
func (p Params) ForSlice(index, share, offset int) Params {
	c := p
	c.Worker = index
	c.Concurrency = share
	c.LaneOffset = offset
	c.ReportPath = fmt.Sprintf(p.ReportPath, index)
	c.Tests = append([]string(nil), p.Tests...)
	c.ActionHandlers = append([]string(nil), p.ActionHandlers...)
	return c
}

// Deadline is how long after launch a lane keeps starting iterations.
// Zero means no deadline.
func (p Params) Deadline() time.Duration {
	return p.RampUp + p.HoldFor
}

func (p Params) validate() error {
	switch {
	case p.Concurrency < 1:
		return fmt.Errorf("worker %d: concurrency must be at least 1", p.Worker)
	case p.TotalConcurrency < p.LaneOffset+p.Concurrency:
		return fmt.Errorf("worker %d: lanes %d..%d exceed total concurrency %d",
			p.Worker, p.LaneOffset, p.LaneOffset+p.Concurrency-1, p.TotalConcurrency)
	case p.Iterations < 0:
		return fmt.Errorf("worker %d: iterations must be >= 0", p.Worker)
	}
	return nil
}

// EncodeParams serializes p for a child process.
func EncodeParams(p Params) ([]byte, error) {
	return yaml.Marshal(p)
}

// DecodeParams reads parameters written by EncodeParams.
func DecodeParams(data []byte) (Params, error) {
	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("decode worker params: %w", err)
	}
	return p, nil
}
