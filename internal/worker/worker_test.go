package worker_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/torosent/crankloop/internal/lane"
	"github.com/torosent/crankloop/internal/metrics"
	"github.com/torosent/crankloop/internal/recorder"
	"github.com/torosent/crankloop/internal/sample"
	"github.com/torosent/crankloop/internal/testrunner"
	"github.com/torosent/crankloop/internal/worker"
)

type enqueued struct {
	sample  *sample.Sample
	total   int
	success int
}

type memorySink struct {
	mu      sync.Mutex
	items   []enqueued
	lanes   int
	maxLane int
}

func (s *memorySink) Enqueue(smp *sample.Sample, total, success int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, enqueued{smp, total, success})
	return nil
}

func (s *memorySink) LaneStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lanes++
	s.maxLane = max(s.maxLane, s.lanes)
}

func (s *memorySink) LaneStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lanes--
}

func (s *memorySink) samples() []enqueued {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]enqueued(nil), s.items...)
}

func params(concurrency, iterations int) worker.Params {
	return worker.Params{
		RunID:            "run",
		Concurrency:      concurrency,
		TotalConcurrency: concurrency,
		Iterations:       iterations,
	}
}

func recordRequest(lc *lane.Context, address string, status int) {
	at := lc.Recorder.Now()
	lc.Recorder.Record(recorder.Request{
		At:      at,
		Method:  http.MethodGet,
		Address: address,
		Start:   at,
		Response: &recorder.Response{
			Method:     http.MethodGet,
			URL:        "http://example.test" + address,
			StatusCode: status,
			Reason:     http.StatusText(status),
		},
	})
}

func unit(name string, run testrunner.Func) testrunner.Unit {
	return testrunner.Unit{Module: "mod", Suite: "Shop", Name: name, File: "shop.yaml", Run: run}
}

func TestWorkerRunsEveryLaneForConfiguredIterations(t *testing.T) {
	sink := &memorySink{}
	collector := metrics.NewCollector()
	var mu sync.Mutex
	seen := map[int][]int{}
	home := unit("test_home", func(ctx context.Context, lc *lane.Context) error {
		mu.Lock()
		seen[lc.Index] = append(seen[lc.Index], lc.Iteration)
		mu.Unlock()
		recordRequest(lc, "/", http.StatusOK)
		return nil
	})

	w, err := worker.New(params(3, 2), []testrunner.Unit{home}, sink,
		worker.WithLogger(zaptest.NewLogger(t)),
		worker.WithCollector(collector),
	)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	got := sink.samples()
	require.Len(t, got, 6)
	for _, e := range got {
		assert.Equal(t, sample.StatusPassed, e.sample.Status)
		assert.Equal(t, "Shop", e.sample.TestSuite)
		assert.Equal(t, "test_home", e.sample.TestCase)
		assert.Equal(t, "mod.Shop.test_home", e.sample.Extras["full_name"])
		assert.Equal(t, "shop.yaml", e.sample.Extras["file"])
		require.Len(t, e.sample.Children, 1)
		assert.Equal(t, "/", e.sample.Children[0].TestCase)
		assert.Equal(t, e.total, e.success)
	}
	assert.Equal(t, map[int][]int{0: {0, 1}, 1: {0, 1}, 2: {0, 1}}, seen)
	assert.Zero(t, sink.lanes, "every lane reported its stop")
	assert.Equal(t, int64(6), collector.Stats(time.Second).Passed)
}

func TestWorkerSamplePath(t *testing.T) {
	sink := &memorySink{}
	units := []testrunner.Unit{
		{Package: "shop.web", Module: "checkout", Suite: "Cart", Name: "test_add", Run: func(context.Context, *lane.Context) error { return nil }},
		{Module: "checkout", Name: "test_plain", Run: func(context.Context, *lane.Context) error { return nil }},
	}
	w, err := worker.New(params(1, 1), units, sink)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	got := sink.samples()
	require.Len(t, got, 2)
	assert.Equal(t, []sample.PathComponent{
		{Kind: "package", Value: "shop"},
		{Kind: "package", Value: "web"},
		{Kind: "module", Value: "checkout"},
		{Kind: "class", Value: "Cart"},
		{Kind: "method", Value: "test_add"},
	}, got[0].sample.Path)
	assert.Equal(t, []sample.PathComponent{
		{Kind: "module", Value: "checkout"},
		{Kind: "func", Value: "test_plain"},
	}, got[1].sample.Path)
}

func TestWorkerIteratesUntilStoppedWithoutLimitOrDeadline(t *testing.T) {
	sink := &memorySink{}
	w, err := worker.New(params(2, 0), []testrunner.Unit{
		unit("test_until_stopped", func(_ context.Context, lc *lane.Context) error {
			if lc.Iteration >= 5 {
				return lane.Stop("done")
			}
			return nil
		}),
	}, sink)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))
	assert.Len(t, sink.samples(), 2*5)
}

func TestWorkerStopsLaneOnGracefulStop(t *testing.T) {
	sink := &memorySink{}
	calls := 0
	w, err := worker.New(params(1, 10), []testrunner.Unit{
		unit("test_feed", func(_ context.Context, lc *lane.Context) error {
			calls++
			if lc.Iteration == 2 {
				recordRequest(lc, "/ignored", http.StatusOK)
				return lane.Stop("no more rows")
			}
			return nil
		}),
		unit("test_after", func(context.Context, *lane.Context) error { return nil }),
	}, sink)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 3, calls)
	got := sink.samples()
	require.Len(t, got, 4, "the stopped iteration emits nothing")
	assert.Equal(t, 4, got[3].total)
}

func TestWorkerStopsAtDeadline(t *testing.T) {
	sink := &memorySink{}
	p := params(2, 0)
	p.HoldFor = 60 * time.Millisecond
	w, err := worker.New(p, []testrunner.Unit{
		unit("test_slow", func(ctx context.Context, _ *lane.Context) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		}),
	}, sink)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, w.Run(context.Background()))
	assert.Less(t, time.Since(start), time.Second)

	n := len(sink.samples())
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 2*8)
}

func TestWorkerStopsWhenContextCancelled(t *testing.T) {
	sink := &memorySink{}
	p := params(1, 0)
	p.HoldFor = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	w, err := worker.New(p, []testrunner.Unit{
		unit("test_cancel", func(context.Context, *lane.Context) error {
			cancel()
			return nil
		}),
	}, sink)
	require.NoError(t, err)
	require.NoError(t, w.Run(ctx))
	assert.Len(t, sink.samples(), 1)
}

func TestWorkerClassifiesOutcomes(t *testing.T) {
	sink := &memorySink{}
	units := []testrunner.Unit{
		unit("test_pass", func(context.Context, *lane.Context) error { return nil }),
		unit("test_fail", func(_ context.Context, lc *lane.Context) error {
			return &lane.AssertionError{Name: "assert_ok", Message: "status 500"}
		}),
		unit("test_broken", func(context.Context, *lane.Context) error { return errors.New("connection reset\ndetails") }),
		unit("test_panic", func(context.Context, *lane.Context) error { panic("boom") }),
		unit("test_skip", func(context.Context, *lane.Context) error { return lane.ErrSkip }),
	}
	w, err := worker.New(params(1, 1), units, sink)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	got := sink.samples()
	require.Len(t, got, 5)
	statuses := make([]sample.Status, len(got))
	for i, e := range got {
		statuses[i] = e.sample.Status
	}
	assert.Equal(t, []sample.Status{
		sample.StatusPassed, sample.StatusFailed, sample.StatusBroken, sample.StatusBroken, sample.StatusSkipped,
	}, statuses)
	assert.Equal(t, "connection reset", got[2].sample.ErrorMessage)
	assert.Contains(t, got[3].sample.ErrorTrace, "boom")
	assert.Equal(t, 5, got[4].total)
	assert.Equal(t, 1, got[4].success)
}

func TestWorkerEnqueuesRootWhenRecordingIsUnbalanced(t *testing.T) {
	sink := &memorySink{}
	w, err := worker.New(params(1, 2), []testrunner.Unit{
		unit("test_open", func(_ context.Context, lc *lane.Context) error {
			recordRequest(lc, "/before", http.StatusOK)
			lc.Recorder.Transaction("never closed").Start()
			return nil
		}),
	}, sink, worker.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	got := sink.samples()
	require.Len(t, got, 2, "one record per iteration even when parsing fails")
	for _, e := range got {
		assert.Equal(t, sample.StatusPassed, e.sample.Status)
		assert.Empty(t, e.sample.Children)
	}
}

func TestWorkerPropagatesRequestAssertionFailureToRoot(t *testing.T) {
	sink := &memorySink{}
	w, err := worker.New(params(1, 1), []testrunner.Unit{
		unit("test_check", func(_ context.Context, lc *lane.Context) error {
			at := lc.Recorder.Now()
			resp := &recorder.Response{Method: http.MethodGet, StatusCode: 500}
			lc.Recorder.Record(recorder.Request{At: at, Method: http.MethodGet, Address: "/x", Response: resp})
			lc.Recorder.Record(recorder.Assertion{At: at, Name: "assert_ok", Response: resp})
			lc.Recorder.Record(recorder.AssertionFailure{At: at, Name: "assert_ok", Response: resp, Message: "got 500"})
			return nil
		}),
	}, sink)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	got := sink.samples()
	require.Len(t, got, 1)
	assert.Equal(t, sample.StatusFailed, got[0].sample.Status)
	assert.Equal(t, "got 500", got[0].sample.ErrorMessage)
	assert.Zero(t, got[0].success)
}

func TestWorkerPropagatesTransactionFailureToRoot(t *testing.T) {
	sink := &memorySink{}
	w, err := worker.New(params(1, 1), []testrunner.Unit{
		unit("test_checkout", func(_ context.Context, lc *lane.Context) error {
			outer := lc.Recorder.Transaction("checkout")
			inner := lc.Recorder.Transaction("pay")
			outer.Start()
			inner.Start()
			recordRequest(lc, "/pay", http.StatusOK)
			inner.Fail("business rule broken")
			if err := inner.Finish(); err != nil {
				return err
			}
			return outer.Finish()
		}),
		unit("test_offline", func(_ context.Context, lc *lane.Context) error {
			lc.Recorder.Record(recorder.Request{At: lc.Recorder.Now(), Method: http.MethodGet, Address: "/down", Err: errors.New("connection refused")})
			return nil
		}),
	}, sink)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	got := sink.samples()
	require.Len(t, got, 2)
	root := got[0].sample
	assert.Equal(t, sample.StatusFailed, root.Status)
	assert.Equal(t, "business rule broken", root.ErrorMessage)
	require.Len(t, root.Children, 1)
	assert.Equal(t, sample.StatusFailed, root.Children[0].Status)

	assert.Equal(t, sample.StatusBroken, got[1].sample.Status)
	assert.Equal(t, "connection refused", got[1].sample.ErrorMessage)
	assert.Zero(t, got[1].success)
}

func TestWorkerRampsLanesUp(t *testing.T) {
	sink := &memorySink{}
	p := params(2, 1)
	p.TotalConcurrency = 4
	p.LaneOffset = 2
	p.RampUp = 200 * time.Millisecond

	var mu sync.Mutex
	started := map[int]time.Duration{}
	begin := time.Now()
	w, err := worker.New(p, []testrunner.Unit{
		unit("test_ramp", func(_ context.Context, lc *lane.Context) error {
			mu.Lock()
			started[lc.Index] = time.Since(begin)
			mu.Unlock()
			return nil
		}),
	}, sink)
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	require.Len(t, started, 2)
	assert.GreaterOrEqual(t, started[2], 100*time.Millisecond)
	assert.GreaterOrEqual(t, started[3], 150*time.Millisecond)
}

func TestWorkerWrapsTestsInSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	w, err := worker.New(params(1, 1), []testrunner.Unit{
		unit("test_traced", func(context.Context, *lane.Context) error { return errors.New("down") }),
	}, &memorySink{}, worker.WithTracer(tp.Tracer("test")))
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "test mod.Shop.test_traced", spans[0].Name)
	assert.Equal(t, "down", spans[0].Status.Description)
}

func TestNewRejectsEmptyOrInvalidWork(t *testing.T) {
	_, err := worker.New(params(1, 1), nil, &memorySink{})
	assert.ErrorIs(t, err, testrunner.ErrNothingToTest)

	p := params(2, 1)
	p.TotalConcurrency = 3
	p.LaneOffset = 2
	_, err = worker.New(p, []testrunner.Unit{unit("t", func(context.Context, *lane.Context) error { return nil })}, &memorySink{})
	assert.ErrorContains(t, err, "exceed total concurrency")
}
