package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/torosent/crankloop/internal/metrics"
)

// Progress prints a status line for a collector at a fixed interval.
type Progress struct {
	w         io.Writer
	prefix    string
	collector *metrics.Collector
	interval  time.Duration

	once sync.Once
	quit chan struct{}
	done chan struct{}
}

// NewProgress returns a Progress writing to w. A non-empty label is printed
// in brackets at the start of every line.
func NewProgress(w io.Writer, label string, collector *metrics.Collector, interval time.Duration) *Progress {
	if w == nil {
		w = io.Discard
	}
	prefix := ""
	if label != "" {
		prefix = "[" + label + "] "
	}
	return &Progress{
		w:         w,
		prefix:    prefix,
		collector: collector,
		interval:  interval,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the printing goroutine. It must be called at most once and
// be paired with Stop.
func (p *Progress) Start() {
	go func() {
		defer close(p.done)
		tick := time.NewTicker(p.interval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				p.line()
			case <-p.quit:
				p.line()
				return
			}
		}
	}()
}

// Stop prints a last line and waits for the goroutine to exit. Calling it
// again is a no-op.
func (p *Progress) Stop() {
	p.once.Do(func() {
		close(p.quit)
		<-p.done
	})
}

func (p *Progress) line() {
	s := p.collector.Stats(p.collector.Elapsed())
	fmt.Fprintf(p.w, "%sLanes: %d | Tests: %d | Passed: %d | Failed: %d | Broken: %d | TPS: %.1f | P90: %.1fms\n",
		p.prefix, p.collector.ActiveLanes(), s.Total, s.Passed, s.Failed, s.Broken, s.TestsPerSec, s.P90LatencyMs)
}
