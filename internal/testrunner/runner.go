package testrunner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/torosent/crankloop/internal/lane"
	"github.com/torosent/crankloop/internal/sample"
)

// Result is the outcome of one unit.
type Result struct {
	Status  sample.Status
	Message string
	Trace   string
	// Err is what the unit returned, nil on success. A graceful stop keeps
	// its identity here so the caller can end the lane.
	Err error
}

// Stopped reports whether the unit asked its lane to stop.
func (r Result) Stopped() bool { return lane.IsGracefulStop(r.Err) }

// Hooks observe each unit. Run calls them synchronously, once each, in the
// order BeforeTest, StartTest, StopTest, AfterTest.
type Hooks interface {
	BeforeTest(lc *lane.Context, u Unit)
	StartTest(lc *lane.Context, u Unit)
	StopTest(lc *lane.Context, u Unit, res Result)
	AfterTest(lc *lane.Context, u Unit)
}

// InfrastructureError is a fixture failure that happened outside the unit's
// tracked body.
type InfrastructureError struct {
	Unit  string
	Phase string
	Err   error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Unit, e.Phase, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Runner executes units.
type Runner struct {
	logger *zap.Logger
}

func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger}
}

// Run executes u in lc. Setup failures break the unit; teardown failures are
// logged as infrastructure errors and leave the result alone.
func (r *Runner) Run(ctx context.Context, u Unit, lc *lane.Context, hooks Hooks) Result {
	hooks.BeforeTest(lc, u)
	hooks.StartTest(lc, u)

	res := r.body(ctx, u, lc)

	hooks.StopTest(lc, u, res)

	if u.Teardown != nil && !errors.Is(res.Err, errSetup) {
		if err := call(ctx, u.Teardown, lc); err != nil {
			infra := &InfrastructureError{Unit: u.ID(), Phase: "teardown", Err: err}
			r.logger.Error("fixture failed", zap.Int("lane", lc.Index), zap.Error(infra))
		}
	}
	r.logger.Debug("test finished",
		zap.String("test", u.ID()),
		zap.Int("lane", lc.Index),
		zap.String("status", string(res.Status)),
	)

	hooks.AfterTest(lc, u)
	return res
}

var errSetup = errors.New("setup failed")

func (r *Runner) body(ctx context.Context, u Unit, lc *lane.Context) Result {
	if u.Setup != nil {
		if err := call(ctx, u.Setup, lc); err != nil {
			res := Classify(err)
			res.Status = sample.StatusBroken
			res.Err = fmt.Errorf("%w: %w", errSetup, err)
			return res
		}
	}
	return Classify(call(ctx, u.Run, lc))
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprint("panic: ", e.value) }

func call(ctx context.Context, fn Func, lc *lane.Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v, stack: debug.Stack()}
		}
	}()
	return fn(ctx, lc)
}

// Classify maps an error returned by a unit to a result: nil passes, skips
// are SKIPPED, assertion errors are FAILED and anything else is BROKEN.
// The message is the first line of the error and the trace its full text.
func Classify(err error) Result {
	if err == nil {
		return Result{Status: sample.StatusPassed}
	}
	text := err.Error()
	res := Result{Err: err, Message: firstLine(text), Trace: text}

	var p *panicError
	switch {
	case errors.Is(err, lane.ErrSkip):
		res.Status = sample.StatusSkipped
	case lane.IsAssertion(err):
		res.Status = sample.StatusFailed
	case errors.As(err, &p):
		res.Status = sample.StatusBroken
		res.Trace = text + "\n" + string(p.stack)
	default:
		res.Status = sample.StatusBroken
	}
	return res
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
