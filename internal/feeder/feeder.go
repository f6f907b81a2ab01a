// Package feeder loads tabular test data and hands it out to lanes so that
// concurrent lanes never read the same row.
package feeder

import (
	"context"
	"fmt"

	"github.com/torosent/crankloop/internal/lane"
)

// Record represents a single row of data with named fields.
type Record map[string]string

// ErrExhausted is returned when a reader has no more records and looping is
// disabled. It is a graceful stop for the lane that hits it.
var ErrExhausted = fmt.Errorf("data source is exhausted: %w", lane.ErrGracefulStop)

// Source is an immutable, loaded dataset shared by every lane of a process.
type Source struct {
	name    string
	records []Record
	loop    bool
}

// NewSource wraps already loaded records.
func NewSource(name string, records []Record, loop bool) *Source {
	return &Source{name: name, records: records, loop: loop}
}

// Name identifies the source in logs and lane storage.
func (s *Source) Name() string { return s.name }

// Len returns the number of records.
func (s *Source) Len() int { return len(s.records) }

// Loop reports whether readers wrap around at the end of the data.
func (s *Source) Loop() bool { return s.loop }

type readerKey struct {
	src *Source
}

// ForLane returns the lane's reader for s, creating it on first use. The
// reader starts at row lc.Index and advances by lc.Total rows per read, so
// the lanes of a run partition the data between them.
func (s *Source) ForLane(lc *lane.Context) *Reader {
	key := readerKey{src: s}
	if v, ok := lc.Value(key); ok {
		return v.(*Reader)
	}
	r := s.Reader(lc.Index, lc.Total)
	lc.SetValue(key, r)
	return r
}

// Reader returns a reader that yields rows first, first+step, first+2*step...
func (s *Source) Reader(first, step int) *Reader {
	if step < 1 {
		step = 1
	}
	if first < 0 {
		first = 0
	}
	return &Reader{src: s, pos: first, step: step}
}

// Reader walks a Source for one lane. It is not safe for concurrent use.
type Reader struct {
	src  *Source
	pos  int
	step int
}

// Next returns the next record for this reader.
func (r *Reader) Next(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	n := len(r.src.records)
	if n == 0 {
		return nil, ErrExhausted
	}
	idx := r.pos
	if r.src.loop {
		idx %= n
	} else if idx >= n {
		return nil, ErrExhausted
	}
	r.pos += r.step
	return r.src.records[idx], nil
}
