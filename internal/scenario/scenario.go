// Package scenario reads YAML scenario files and compiles them into test
// units that drive HTTP requests through the recording client.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is the root of a scenario file.
type Scenario struct {
	DefaultAddress string            `yaml:"default-address"`
	Headers        map[string]string `yaml:"headers"`
	Timeout        time.Duration     `yaml:"timeout"`
	KeepAlive      *bool             `yaml:"keepalive"`
	StoreCookie    *bool             `yaml:"store-cookie"`
	Variables      map[string]string `yaml:"variables"`
	Feeders        []Feeder          `yaml:"feeders"`
	Suites         []Suite           `yaml:"suites"`

	path string
}

// Feeder declares a data file read row by row by the lanes.
type Feeder struct {
	Name       string   `yaml:"name"`
	Path       string   `yaml:"path"`
	Format     string   `yaml:"format"`
	Delimiter  string   `yaml:"delimiter"`
	FieldNames []string `yaml:"fieldnames"`
	Loop       *bool    `yaml:"loop"`
}

// Suite groups tests that share fixtures.
type Suite struct {
	Name        string `yaml:"name"`
	Package     string `yaml:"package"`
	Module      string `yaml:"module"`
	Description string `yaml:"description"`
	Setup       []Step `yaml:"setup"`
	Teardown    []Step `yaml:"teardown"`
	Tests       []Test `yaml:"tests"`
}

// Test is one test case. Feeder names a data source read once per run of
// the test; its fields become variables.
type Test struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Feeder      string `yaml:"feeder"`
	Steps       []Step `yaml:"steps"`
}

// Step is exactly one of its fields.
type Step struct {
	Request      *Request          `yaml:"request"`
	Transaction  *Transaction      `yaml:"transaction"`
	ThinkTime    time.Duration     `yaml:"think-time"`
	SetVariables map[string]string `yaml:"set-variables"`
}

// Request is a single HTTP call with its checks.
type Request struct {
	Label   string            `yaml:"label"`
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	Assert  []Assertion       `yaml:"assert"`
	Extract []Extractor       `yaml:"extract"`
}

// Assertion holds one or more checks applied to a response.
type Assertion struct {
	Status      int      `yaml:"status"`
	OK          bool     `yaml:"ok"`
	Failed      bool     `yaml:"failed"`
	Contains    []string `yaml:"contains"`
	NotContains []string `yaml:"not-contains"`
	Regex       string   `yaml:"regex"`
	JSONPath    string   `yaml:"jsonpath"`
	Equals      string   `yaml:"equals"`
	NotJSONPath string   `yaml:"not-jsonpath"`
	Header      string   `yaml:"header"`
	HeaderValue string   `yaml:"header-value"`
}

// Extractor stores part of a response in a lane variable.
type Extractor struct {
	Var      string `yaml:"var"`
	JSONPath string `yaml:"jsonpath"`
	Regex    string `yaml:"regex"`
	Default  string `yaml:"default"`
	// OnError extracts from 4xx/5xx responses too.
	OnError bool `yaml:"on-error"`
}

// Transaction groups steps under one name.
type Transaction struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	scn, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	scn.path = path
	return scn, nil
}

// Parse decodes and validates scenario YAML. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var scn Scenario
	if err := dec.Decode(&scn); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := scn.Validate(); err != nil {
		return nil, err
	}
	return &scn, nil
}

// Path returns the file the scenario was loaded from, if any.
func (s *Scenario) Path() string { return s.path }

// Validate reports every problem found in the scenario.
func (s *Scenario) Validate() error {
	var errs []error
	feeders := map[string]bool{}
	for i, f := range s.Feeders {
		switch {
		case f.Name == "":
			errs = append(errs, fmt.Errorf("feeders[%d]: name is required", i))
		case feeders[f.Name]:
			errs = append(errs, fmt.Errorf("feeders[%d]: duplicate name %q", i, f.Name))
		}
		feeders[f.Name] = true
		if strings.TrimSpace(f.Path) == "" {
			errs = append(errs, fmt.Errorf("feeders[%d]: path is required", i))
		}
		if format := f.format(); format != "csv" && format != "json" {
			errs = append(errs, fmt.Errorf("feeders[%d]: unsupported format %q", i, format))
		}
		if len([]rune(f.Delimiter)) > 1 {
			errs = append(errs, fmt.Errorf("feeders[%d]: delimiter must be a single character", i))
		}
	}

	if len(s.Suites) == 0 {
		errs = append(errs, errors.New("at least one suite is required"))
	}
	for i, suite := range s.Suites {
		where := fmt.Sprintf("suites[%d]", i)
		if suite.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", where))
		}
		errs = append(errs, validateSteps(where+".setup", suite.Setup)...)
		errs = append(errs, validateSteps(where+".teardown", suite.Teardown)...)
		if len(suite.Tests) == 0 {
			errs = append(errs, fmt.Errorf("%s: no tests", where))
		}
		for j, test := range suite.Tests {
			twhere := fmt.Sprintf("%s.tests[%d]", where, j)
			if test.Name == "" {
				errs = append(errs, fmt.Errorf("%s: name is required", twhere))
			}
			if test.Feeder != "" && !feeders[test.Feeder] {
				errs = append(errs, fmt.Errorf("%s: unknown feeder %q", twhere, test.Feeder))
			}
			errs = append(errs, validateSteps(twhere+".steps", test.Steps)...)
		}
	}
	return errors.Join(errs...)
}

func validateSteps(where string, steps []Step) []error {
	var errs []error
	for i, step := range steps {
		at := fmt.Sprintf("%s[%d]", where, i)
		kinds := 0
		if step.Request != nil {
			kinds++
			if strings.TrimSpace(step.Request.URL) == "" {
				errs = append(errs, fmt.Errorf("%s: request url is required", at))
			}
			for k, ex := range step.Request.Extract {
				if ex.Var == "" || (ex.JSONPath == "") == (ex.Regex == "") {
					errs = append(errs, fmt.Errorf("%s.extract[%d]: needs var and exactly one of jsonpath or regex", at, k))
				}
			}
		}
		if step.Transaction != nil {
			kinds++
			if step.Transaction.Name == "" {
				errs = append(errs, fmt.Errorf("%s: transaction name is required", at))
			}
			errs = append(errs, validateSteps(at+".steps", step.Transaction.Steps)...)
		}
		if step.ThinkTime != 0 {
			kinds++
			if step.ThinkTime < 0 {
				errs = append(errs, fmt.Errorf("%s: think-time cannot be negative", at))
			}
		}
		if step.SetVariables != nil {
			kinds++
		}
		if kinds != 1 {
			errs = append(errs, fmt.Errorf("%s: a step needs exactly one of request, transaction, think-time or set-variables", at))
		}
	}
	return errs
}

func (f Feeder) format() string {
	if f.Format != "" {
		return strings.ToLower(f.Format)
	}
	if strings.EqualFold(filepath.Ext(f.Path), ".json") {
		return "json"
	}
	return "csv"
}

func (f Feeder) loop() bool {
	return f.Loop == nil || *f.Loop
}
