package worker

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crankloop/internal/lane"
	"github.com/torosent/crankloop/internal/plugin"
	"github.com/torosent/crankloop/internal/recorder"
	"github.com/torosent/crankloop/internal/sample"
	"github.com/torosent/crankloop/internal/testrunner"
)

// controller turns one lane's test runs into result trees. It implements
// testrunner.Hooks and is only ever called from its own lane.
type controller struct {
	w  *Worker
	lc *lane.Context

	current *sample.Sample
	result  testrunner.Result
	start   time.Time
	stop    time.Time

	total   int
	success int
}

func newController(w *Worker, lc *lane.Context) *controller {
	return &controller{w: w, lc: lc}
}

func (c *controller) BeforeTest(lc *lane.Context, u testrunner.Unit) {
	s := sample.New(u.Suite, u.Name, sample.StatusSkipped)
	s.Extras["file"] = u.File
	s.Extras["full_name"] = u.ID()
	s.Extras["description"] = u.Description
	s.Path = testPath(u)
	c.current = s
	c.result = testrunner.Result{}

	plugin.Notify(lc, plugin.TestCaseStart, plugin.Action{
		"test_suite": u.Suite,
		"test_case":  u.Name,
		"iteration":  lc.Iteration,
	})
}

func (c *controller) StartTest(lc *lane.Context, _ testrunner.Unit) {
	c.start = lc.Recorder.Now()
	c.current.StartTime = c.start
}

func (c *controller) StopTest(lc *lane.Context, _ testrunner.Unit, res testrunner.Result) {
	c.stop = lc.Recorder.Now()
	c.result = res
	s := c.current
	s.Duration = c.stop.Sub(c.start)
	s.Status = res.Status
	s.ErrorMessage = res.Message
	s.ErrorTrace = res.Trace
}

func (c *controller) AfterTest(lc *lane.Context, u testrunner.Unit) {
	root := c.current
	c.current = nil
	events := lc.Recorder.PopEvents(c.start, c.stop)

	if c.result.Stopped() {
		// The lane ran out of work mid-test; nothing happened worth reporting.
		lc.Logger.Debug("discarding stopped test", zap.String("test", u.ID()), zap.Error(c.result.Err))
		plugin.Notify(lc, plugin.TestCaseStop, plugin.Action{"test_case": u.Name, "status": "STOPPED"})
		return
	}

	if _, err := sample.NewExtractor().Parse(events, root); err != nil {
		lc.Logger.Warn("cannot build result tree, writing test sample only",
			zap.String("test", u.ID()),
			zap.Error(err),
		)
		lc.Logger.Debug("recorded events", zap.Strings("events", describe(events)))
	}

	c.total++
	if root.Status == sample.StatusPassed {
		c.success++
	}
	c.w.collector.Record(u.ID(), root.Status, root.Duration)
	if err := c.w.sink.Enqueue(root, c.total, c.success); err != nil {
		lc.Logger.Error("result dropped", zap.String("test", u.ID()), zap.Error(err))
	}

	plugin.Notify(lc, plugin.TestCaseStop, plugin.Action{
		"test_suite": u.Suite,
		"test_case":  u.Name,
		"status":     string(root.Status),
		"message":    root.ErrorMessage,
		"duration":   root.Duration.Seconds(),
	})
}

// testPath locates a unit: package components, module, then class and
// method, or func when the test has no suite.
func testPath(u testrunner.Unit) []sample.PathComponent {
	var path []sample.PathComponent
	if u.Package != "" {
		for _, part := range strings.Split(u.Package, ".") {
			path = append(path, sample.PathComponent{Kind: "package", Value: part})
		}
	}
	if u.Module != "" {
		path = append(path, sample.PathComponent{Kind: "module", Value: u.Module})
	}
	if u.Suite != "" {
		return append(path,
			sample.PathComponent{Kind: "class", Value: u.Suite},
			sample.PathComponent{Kind: "method", Value: u.Name},
		)
	}
	return append(path, sample.PathComponent{Kind: "func", Value: u.Name})
}

func describe(events []recorder.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		switch e := e.(type) {
		case recorder.Request:
			out = append(out, "request "+e.Method+" "+e.Address)
		case recorder.TransactionStarted:
			out = append(out, "transaction start "+e.Name)
		case recorder.TransactionEnded:
			out = append(out, "transaction end "+e.Name)
		case recorder.Assertion:
			out = append(out, "assertion "+e.Name)
		case recorder.AssertionFailure:
			out = append(out, "assertion failure "+e.Name)
		}
	}
	return out
}
