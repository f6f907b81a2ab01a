package scenario

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/crankloop/internal/feeder"
	"github.com/torosent/crankloop/internal/httpclient"
	"github.com/torosent/crankloop/internal/lane"
	"github.com/torosent/crankloop/internal/plugin"
	"github.com/torosent/crankloop/internal/testrunner"
)

// CompileOptions carries process-wide collaborators into the compiled units.
type CompileOptions struct {
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Propagate bool
}

type compiled struct {
	scn     *Scenario
	opts    CompileOptions
	feeders map[string]*feeder.Source
}

type targetKey struct {
	c *compiled
}

// Units loads the scenario's feeders and returns one unit per test, in file
// order. Relative feeder paths resolve against the scenario file.
func (s *Scenario) Units(opts CompileOptions) ([]testrunner.Unit, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &compiled{scn: s, opts: opts, feeders: make(map[string]*feeder.Source)}
	for _, f := range s.Feeders {
		src, err := loadFeeder(f, filepath.Dir(s.path))
		if err != nil {
			return nil, fmt.Errorf("feeder %s: %w", f.Name, err)
		}
		opts.Logger.Debug("feeder loaded", zap.String("feeder", f.Name), zap.Int("records", src.Len()))
		c.feeders[f.Name] = src
	}

	var units []testrunner.Unit
	for _, suite := range s.Suites {
		module := suite.Module
		if module == "" {
			module = s.module()
		}
		for _, test := range suite.Tests {
			unit := testrunner.Unit{
				Package:     suite.Package,
				Module:      module,
				Suite:       suite.Name,
				Name:        test.Name,
				File:        s.path,
				Description: test.Description,
				Run: func(ctx context.Context, lc *lane.Context) error {
					if test.Feeder != "" {
						record, err := c.feeders[test.Feeder].ForLane(lc).Next(ctx)
						if err != nil {
							return err
						}
						for k, v := range record {
							lc.Set(k, v)
						}
					}
					return c.runSteps(ctx, lc, test.Steps)
				},
			}
			if len(suite.Setup) > 0 {
				unit.Setup = func(ctx context.Context, lc *lane.Context) error {
					return c.runSteps(ctx, lc, suite.Setup)
				}
			}
			if len(suite.Teardown) > 0 {
				unit.Teardown = func(ctx context.Context, lc *lane.Context) error {
					return c.runSteps(ctx, lc, suite.Teardown)
				}
			}
			units = append(units, unit)
		}
	}
	return units, nil
}

func (s *Scenario) module() string {
	if s.path == "" {
		return "scenario"
	}
	base := filepath.Base(s.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func loadFeeder(f Feeder, dir string) (*feeder.Source, error) {
	path := f.Path
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	if f.format() == "json" {
		return feeder.LoadJSON(path, f.loop())
	}
	opts := feeder.CSVOptions{FieldNames: f.FieldNames, Loop: f.loop()}
	if f.Delimiter != "" {
		opts.Delimiter = []rune(f.Delimiter)[0]
	}
	return feeder.LoadCSV(path, opts)
}

// target returns the lane's HTTP target, created on first use so that
// cookies and connections stay with the lane.
func (c *compiled) target(lc *lane.Context) *httpclient.Target {
	key := targetKey{c: c}
	if v, ok := lc.Value(key); ok {
		return v.(*httpclient.Target)
	}
	opts := []httpclient.Option{
		httpclient.WithBaseURL(c.scn.DefaultAddress),
		httpclient.WithHeaders(c.scn.Headers),
		httpclient.WithLogger(lc.Logger),
	}
	if c.scn.Timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(c.scn.Timeout))
	}
	if c.scn.KeepAlive != nil {
		opts = append(opts, httpclient.WithKeepAlive(*c.scn.KeepAlive))
	}
	if c.scn.StoreCookie != nil {
		opts = append(opts, httpclient.WithCookies(*c.scn.StoreCookie))
	}
	if c.opts.Tracer != nil {
		opts = append(opts, httpclient.WithTracer(c.opts.Tracer, c.opts.Propagate))
	}
	t := httpclient.NewTarget(lc.Recorder, opts...)
	lc.SetValue(key, t)
	return t
}

func (c *compiled) runSteps(ctx context.Context, lc *lane.Context, steps []Step) error {
	for _, step := range steps {
		if err := c.runStep(ctx, lc, step); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiled) runStep(ctx context.Context, lc *lane.Context, step Step) error {
	switch {
	case step.Request != nil:
		label := step.Request.Label
		if label == "" {
			label = step.Request.URL
		}
		plugin.Notify(lc, plugin.ActionStepStart, plugin.Action{"type": "request", "label": label})
		defer plugin.Notify(lc, plugin.ActionStepEnd, plugin.Action{"type": "request", "label": label})
		return c.request(ctx, lc, step.Request)

	case step.Transaction != nil:
		plugin.Notify(lc, plugin.ActionStepStart, plugin.Action{"type": "transaction", "label": step.Transaction.Name})
		defer plugin.Notify(lc, plugin.ActionStepEnd, plugin.Action{"type": "transaction", "label": step.Transaction.Name})
		name := feeder.Expand(step.Transaction.Name, c.vars(lc))
		return lc.Recorder.Transaction(name).Do(func() error {
			return c.runSteps(ctx, lc, step.Transaction.Steps)
		})

	case step.ThinkTime > 0:
		timer := time.NewTimer(step.ThinkTime)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}

	default:
		vars := c.vars(lc)
		for k, v := range step.SetVariables {
			lc.Set(k, feeder.Expand(v, vars))
		}
		return nil
	}
}

// vars resolves placeholders: lane variables override scenario variables.
func (c *compiled) vars(lc *lane.Context) map[string]string {
	return lc.Merge(c.scn.Variables)
}

func (c *compiled) request(ctx context.Context, lc *lane.Context, req *Request) error {
	vars := c.vars(lc)
	method := req.Method
	if method == "" {
		method = "GET"
	}

	opts := make([]httpclient.RequestOption, 0, len(req.Headers)+1)
	for k, v := range req.Headers {
		opts = append(opts, httpclient.Header(k, feeder.Expand(v, vars)))
	}
	if req.Body != "" {
		opts = append(opts, httpclient.Body([]byte(feeder.Expand(req.Body, vars))))
	}

	resp, err := c.target(lc).Request(ctx, method, feeder.Expand(req.URL, vars), opts...)
	if err != nil {
		return err
	}
	for _, a := range req.Assert {
		if err := a.check(resp, vars); err != nil {
			return err
		}
	}
	for _, ex := range req.Extract {
		if resp.StatusCode >= 400 && !ex.OnError {
			continue
		}
		value, err := ex.extract(resp)
		if err != nil {
			lc.Logger.Warn("extraction failed", zap.String("var", ex.Var), zap.Error(err))
			value = ex.Default
		}
		lc.Set(ex.Var, value)
	}
	return nil
}

func (a Assertion) check(resp *httpclient.Response, vars map[string]string) error {
	checks := make([]func() error, 0, 4)
	if a.Status != 0 {
		checks = append(checks, func() error { return resp.AssertStatusCode(a.Status) })
	}
	if a.OK {
		checks = append(checks, resp.AssertOK)
	}
	if a.Failed {
		checks = append(checks, resp.AssertFailed)
	}
	for _, s := range a.Contains {
		s := feeder.Expand(s, vars)
		checks = append(checks, func() error { return resp.AssertInBody(s) })
	}
	for _, s := range a.NotContains {
		s := feeder.Expand(s, vars)
		checks = append(checks, func() error { return resp.AssertNotInBody(s) })
	}
	if a.Regex != "" {
		checks = append(checks, func() error { return resp.AssertRegexInBody(a.Regex) })
	}
	if a.JSONPath != "" {
		expected := feeder.Expand(a.Equals, vars)
		checks = append(checks, func() error { return resp.AssertJSONPath(a.JSONPath, expected) })
	}
	if a.NotJSONPath != "" {
		checks = append(checks, func() error { return resp.AssertNotJSONPath(a.NotJSONPath) })
	}
	if a.Header != "" {
		if a.HeaderValue != "" {
			value := feeder.Expand(a.HeaderValue, vars)
			checks = append(checks, func() error { return resp.AssertHeaderValue(a.Header, value) })
		} else {
			checks = append(checks, func() error { return resp.AssertHasHeader(a.Header) })
		}
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (ex Extractor) extract(resp *httpclient.Response) (string, error) {
	if ex.JSONPath != "" {
		return resp.ExtractJSONPath(ex.JSONPath)
	}
	return resp.ExtractRegex(ex.Regex)
}
