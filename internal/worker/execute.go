package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/torosent/crankloop/internal/metrics"
	"github.com/torosent/crankloop/internal/output"
	"github.com/torosent/crankloop/internal/plugin"
	"github.com/torosent/crankloop/internal/scenario"
	"github.com/torosent/crankloop/internal/testrunner"
	"github.com/torosent/crankloop/internal/tracing"
)

// Streams are where a worker process writes what users read.
type Streams struct {
	// Out receives per-test progress lines and the final summary.
	Out io.Writer
	// Err receives the periodic status line. Nil disables it.
	Err io.Writer
}

const progressInterval = 5 * time.Second

// Execute runs one worker process end to end: it loads the scenario, opens
// the result file, runs every lane and prints the summary. The result file
// is fully written before Execute returns.
func Execute(ctx context.Context, p Params, streams Streams, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if streams.Out == nil {
		streams.Out = io.Discard
	}
	logger = logger.With(zap.Int("worker", p.Worker))

	provider, err := tracing.Init(ctx, p.Tracing,
		attribute.String("crankloop.run_id", p.RunID),
		attribute.Int("crankloop.worker", p.Worker),
	)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := provider.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("tracing shutdown", zap.Error(shutdownErr))
		}
	}()

	units, err := discover(p, provider, logger)
	if err != nil {
		return err
	}

	handlers, err := plugin.Builtin(logger).CreateNamed(p.ActionHandlers, nil)
	if err != nil {
		return err
	}
	if err := handlers.Startup(); err != nil {
		return fmt.Errorf("start action handlers: %w", err)
	}
	defer func() {
		if finErr := handlers.Finalize(); finErr != nil {
			logger.Warn("finalize action handlers", zap.Error(finErr))
		}
	}()

	writer, err := output.Open(p.ReportPath, output.WithProgress(streams.Out), output.WithLogger(logger))
	if err != nil {
		return err
	}
	// Closed explicitly below so the summary follows every progress line.
	defer func() { _ = writer.Close() }()

	collector := metrics.NewCollector()
	if p.MetricsPort > 0 {
		stop, serveErr := serveMetrics(ctx, p, collector, logger)
		if serveErr != nil {
			return serveErr
		}
		defer stop()
	}

	w, err := New(p, units, writer,
		WithLogger(logger),
		WithCollector(collector),
		WithHandlers(handlers),
		WithTracer(provider.Tracer()),
	)
	if err != nil {
		return err
	}

	var progress *output.Progress
	if streams.Err != nil && !p.JSONOutput {
		progress = output.NewProgress(streams.Err, fmt.Sprintf("worker %d", p.Worker), collector, progressInterval)
		progress.Start()
	}
	runErr := w.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err := errors.Join(runErr, writer.Close()); err != nil {
		return err
	}

	stats := collector.Stats(collector.Elapsed())
	if p.JSONOutput {
		return output.PrintJSONReport(streams.Out, stats)
	}
	output.PrintReport(streams.Out, fmt.Sprintf("Worker %d (%s)", p.Worker, p.ReportPath), stats)
	fmt.Fprintf(streams.Out, "\nResults:           %d samples, %d records in %s\n", writer.Samples(), writer.Records(), p.ReportPath)
	return nil
}

func discover(p Params, provider *tracing.Provider, logger *zap.Logger) ([]testrunner.Unit, error) {
	scn, err := scenario.Load(p.Scenario)
	if err != nil {
		return nil, err
	}
	units, err := scn.Units(scenario.CompileOptions{
		Logger:    logger,
		Tracer:    provider.Tracer(),
		Propagate: provider.ShouldPropagate(),
	})
	if err != nil {
		return nil, err
	}
	reg := testrunner.NewRegistry()
	if err := reg.Register(units...); err != nil {
		return nil, err
	}
	return reg.Discover(p.Tests)
}

func serveMetrics(ctx context.Context, p Params, collector *metrics.Collector, logger *zap.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	if err := collector.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	addr := fmt.Sprintf(":%d", p.MetricsPort+p.Worker)
	go func() {
		defer close(done)
		if err := metrics.Serve(serveCtx, addr, reg, logger); err != nil {
			logger.Error("metrics server", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}
