// Package worker runs one process's share of lanes: each lane waits out its
// ramp-up delay, then executes the discovered tests iteration after
// iteration and hands every result tree to the process's result writer.
package worker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/crankloop/internal/lane"
	"github.com/torosent/crankloop/internal/metrics"
	"github.com/torosent/crankloop/internal/plugin"
	"github.com/torosent/crankloop/internal/sample"
	"github.com/torosent/crankloop/internal/schedule"
	"github.com/torosent/crankloop/internal/testrunner"
	"github.com/torosent/crankloop/internal/tracing"
)

// Sink receives finished result trees. *output.Writer implements it.
type Sink interface {
	Enqueue(s *sample.Sample, total, success int) error
	LaneStarted()
	LaneStopped()
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Lane loggers derive from it.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithCollector records every finished test in c.
func WithCollector(c *metrics.Collector) Option {
	return func(w *Worker) { w.collector = c }
}

// WithHandlers attaches action handlers to every lane.
func WithHandlers(hs plugin.Handlers) Option {
	return func(w *Worker) { w.handlers = hs }
}

// WithTracer wraps every test run in a span from tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Worker) {
		if tracer != nil {
			w.tracer = tracer
		}
	}
}

// WithLimiter paces iteration starts across all lanes of the process.
func WithLimiter(l *rate.Limiter) Option {
	return func(w *Worker) { w.limiter = l }
}

// Worker executes units on Params.Concurrency lanes.
type Worker struct {
	params    Params
	units     []testrunner.Unit
	sink      Sink
	runner    *testrunner.Runner
	collector *metrics.Collector
	handlers  plugin.Handlers
	tracer    trace.Tracer
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// New returns a worker that runs units, in order, once per iteration and
// sends results to sink.
func New(params Params, units []testrunner.Unit, sink Sink, opts ...Option) (*Worker, error) {
	if len(units) == 0 {
		return nil, testrunner.ErrNothingToTest
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	w := &Worker{
		params:    params,
		units:     units,
		sink:      sink,
		collector: metrics.NewCollector(),
		tracer:    noop.NewTracerProvider().Tracer(""),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.limiter == nil && params.Throughput > 0 {
		w.limiter = shareLimiter(params)
	}
	w.runner = testrunner.NewRunner(w.logger)
	return w, nil
}

// shareLimiter paces this process at its proportional share of the run's
// throughput.
func shareLimiter(p Params) *rate.Limiter {
	share := p.Throughput * float64(p.Concurrency) / float64(p.TotalConcurrency)
	return rate.NewLimiter(rate.Limit(share), 1)
}

// Collector returns the collector the worker records into.
func (w *Worker) Collector() *metrics.Collector { return w.collector }

// Run starts every lane and returns once all of them have stopped. Lanes stop
// on their own; cancelling ctx stops them at the next iteration boundary.
func (w *Worker) Run(ctx context.Context) error {
	p := w.params
	delays := schedule.LaneDelays(p.LaneOffset, p.Concurrency, p.TotalConcurrency, p.RampUp, p.Steps)

	w.logger.Info("worker started",
		zap.Int("lanes", p.Concurrency),
		zap.Int("lane_offset", p.LaneOffset),
		zap.Int("tests", len(w.units)),
	)
	w.collector.Start()

	var wg sync.WaitGroup
	for i, delay := range delays {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runLane(ctx, i, delay)
		}()
	}
	wg.Wait()

	w.logger.Info("worker finished", zap.Duration("elapsed", w.collector.Elapsed()))
	return nil
}

func (w *Worker) runLane(ctx context.Context, local int, delay time.Duration) {
	p := w.params
	lc := lane.New(p.LaneOffset+local, p.TotalConcurrency, w.logger)
	lc.LocalIndex = local
	lc.Worker = p.Worker
	plugin.Attach(lc, w.handlers)

	var deadline time.Time
	if d := p.Deadline(); d > 0 {
		deadline = time.Now().Add(d)
	}

	lc.Logger.Debug("lane waiting", zap.Duration("delay", delay))
	if !sleep(ctx, delay) {
		return
	}

	w.sink.LaneStarted()
	w.collector.LaneStarted()
	defer func() {
		w.collector.LaneStopped()
		w.sink.LaneStopped()
	}()

	ctl := newController(w, lc)
	reason := w.loop(ctx, lc, ctl, deadline)
	lc.Logger.Debug("lane stopped",
		zap.String("reason", reason),
		zap.Int("iterations", lc.Iteration),
	)
}

func (w *Worker) loop(ctx context.Context, lc *lane.Context, ctl *controller, deadline time.Time) string {
	p := w.params
	for {
		switch {
		case ctx.Err() != nil:
			return "cancelled"
		case p.Iterations > 0 && lc.Iteration >= p.Iterations:
			return "iteration limit"
		case !deadline.IsZero() && !time.Now().Before(deadline):
			return "deadline"
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return "cancelled"
			}
		}
		stopped := w.iterate(ctx, lc, ctl)
		lc.Iteration++
		if stopped {
			return "graceful stop"
		}
	}
}

// iterate runs every unit once and reports whether one of them asked the
// lane to stop.
func (w *Worker) iterate(ctx context.Context, lc *lane.Context, ctl *controller) bool {
	for _, u := range w.units {
		spanCtx, span := tracing.StartTestSpan(ctx, w.tracer, tracing.TestSpan{
			Test:      u.ID(),
			Lane:      lc.Index,
			Worker:    lc.Worker,
			Iteration: lc.Iteration,
			SessionID: lc.SessionID.String(),
		})
		res := w.runner.Run(spanCtx, u, lc, ctl)
		var spanErr error
		if res.Status.IsFailure() {
			spanErr = res.Err
		}
		tracing.EndSpan(span, spanErr)

		if res.Stopped() {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
