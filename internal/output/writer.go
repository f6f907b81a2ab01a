// Package output persists result trees and renders run summaries.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/torosent/crankloop/internal/sample"
)

// Format selects how samples are serialized.
type Format int

const (
	// FormatJTL writes one CSV row per leaf request.
	FormatJTL Format = iota
	// FormatLDJSON writes one JSON document per top-level sample per line.
	FormatLDJSON
)

func (f Format) String() string {
	if f == FormatLDJSON {
		return "ldjson"
	}
	return "jtl"
}

// FormatFor picks the format from the file extension: ".ldjson" selects
// FormatLDJSON, anything else FormatJTL.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".ldjson") {
		return FormatLDJSON
	}
	return FormatJTL
}

// ErrWriterClosed is returned by Enqueue after Close has been called.
var ErrWriterClosed = errors.New("result writer is closed")

const defaultPollInterval = 100 * time.Millisecond

type encoder interface {
	header() error
	encode(s *sample.Sample, lanes int64) (records int, err error)
	flush() error
}

type entry struct {
	sample  *sample.Sample
	total   int
	success int
}

// Option configures a Writer.
type Option func(*Writer)

// WithFormat overrides the format derived from the file name.
func WithFormat(f Format) Option {
	return func(w *Writer) { w.format = f; w.formatSet = true }
}

// WithProgress prints "<test>,Total:<n> Passed:<n> Failed:<n>" to out after
// every written sample.
func WithProgress(out io.Writer) Option {
	return func(w *Writer) { w.progress = out }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

// WithPollInterval sets how long the consumer sleeps when the queue is empty.
func WithPollInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.poll = d
		}
	}
}

// Writer drains samples enqueued by many lanes into one result file from a
// single background goroutine. Enqueue never blocks; Close waits until every
// accepted sample has been written before closing the file.
type Writer struct {
	path      string
	format    Format
	formatSet bool
	progress  io.Writer
	logger    *zap.Logger
	poll      time.Duration

	mu     sync.Mutex
	queue  []entry
	closed bool
	err    error

	wake chan struct{}
	done chan struct{}

	file *os.File
	lock *flock.Flock
	enc  encoder

	lanes   atomic.Int64
	samples atomic.Int64
	records atomic.Int64
}

// Open creates (or truncates) path, locks it for the lifetime of the Writer
// and starts the consumer.
func Open(path string, opts ...Option) (*Writer, error) {
	w := &Writer{
		path:   path,
		logger: zap.NewNop(),
		poll:   defaultPollInterval,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if !w.formatSet {
		w.format = FormatFor(path)
	}

	w.lock = flock.New(path + ".lock")
	locked, err := w.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock result file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("result file %s is in use by another process", path)
	}

	file, err := os.Create(path)
	if err != nil {
		w.releaseLock()
		return nil, fmt.Errorf("create result file: %w", err)
	}
	w.file = file

	switch w.format {
	case FormatLDJSON:
		w.enc = newLDJSONEncoder(file)
	default:
		w.enc = newJTLEncoder(file)
	}
	if err := w.enc.header(); err == nil {
		err = w.enc.flush()
	}
	if err != nil {
		_ = file.Close()
		w.releaseLock()
		return nil, fmt.Errorf("write result header: %w", err)
	}

	w.logger.Debug("result writer opened", zap.String("path", path), zap.Stringer("format", w.format))
	go w.run()
	return w, nil
}

// Path returns the result file path.
func (w *Writer) Path() string { return w.path }

// Enqueue hands s to the writer together with the lane's running test and
// success counts. It never blocks.
func (w *Writer) Enqueue(s *sample.Sample, total, success int) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.queue = append(w.queue, entry{sample: s, total: total, success: success})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// LaneStarted and LaneStopped maintain the lane count reported as allThreads.
func (w *Writer) LaneStarted() { w.lanes.Add(1) }

func (w *Writer) LaneStopped() { w.lanes.Add(-1) }

// Samples returns how many samples have been written.
func (w *Writer) Samples() int64 { return w.samples.Load() }

// Records returns how many rows or lines have been written.
func (w *Writer) Records() int64 { return w.records.Load() }

// Close stops accepting samples, waits for the queue to drain and closes
// the file. It returns the first write error, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	<-w.done

	err := w.firstErr()
	if flushErr := w.enc.flush(); err == nil {
		err = flushErr
	}
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	w.releaseLock()
	w.logger.Info("result writer closed",
		zap.String("path", w.path),
		zap.Int64("samples", w.samples.Load()),
		zap.Int64("records", w.records.Load()),
	)
	return err
}

func (w *Writer) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		batch, closed := w.take()
		for _, e := range batch {
			w.write(e)
		}
		if len(batch) > 0 {
			if err := w.enc.flush(); err != nil {
				w.recordErr(err)
			}
			continue
		}
		if closed {
			return
		}
		select {
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

func (w *Writer) take() ([]entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.queue
	w.queue = nil
	return batch, w.closed
}

func (w *Writer) write(e entry) {
	n, err := w.enc.encode(e.sample, w.lanes.Load())
	if err != nil {
		w.recordErr(err)
		w.logger.Error("write sample", zap.String("test", e.sample.TestCase), zap.Error(err))
		return
	}
	w.samples.Add(1)
	w.records.Add(int64(n))

	if w.progress != nil {
		fmt.Fprintf(w.progress, "%s,Total:%d Passed:%d Failed:%d\n",
			e.sample.TestCase, e.total, e.success, e.total-e.success)
	}
}

func (w *Writer) recordErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

func (w *Writer) firstErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) releaseLock() {
	if w.lock == nil {
		return
	}
	if err := w.lock.Unlock(); err != nil {
		w.logger.Warn("unlock result file", zap.Error(err))
	}
	_ = os.Remove(w.lock.Path())
}
