package recorder

import "time"

// Recorder is an append-only event log owned by exactly one lane. It is not
// safe for concurrent use; each lane gets its own instance.
type Recorder struct {
	events []Event
	now    func() time.Time
}

// New returns an empty recorder.
func New() *Recorder {
	return &Recorder{now: time.Now}
}

// NewWithClock returns an empty recorder that stamps events using now.
func NewWithClock(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Now returns the recorder's clock reading, used to stamp new events.
func (r *Recorder) Now() time.Time {
	return r.now()
}

// Record appends e to the log.
func (r *Recorder) Record(e Event) {
	r.events = append(r.events, e)
}

// PopEvents removes and returns, in recording order, every event whose
// timestamp lies within [from, to]. Events outside the window stay in the log.
func (r *Recorder) PopEvents(from, to time.Time) []Event {
	if len(r.events) == 0 {
		return nil
	}
	var popped []Event
	kept := r.events[:0]
	for _, e := range r.events {
		ts := e.Timestamp()
		if !ts.Before(from) && !ts.After(to) {
			popped = append(popped, e)
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so dropped events can be collected.
	for i := len(kept); i < len(r.events); i++ {
		r.events[i] = nil
	}
	r.events = kept
	return popped
}

// Len reports how many events are waiting in the log.
func (r *Recorder) Len() int {
	return len(r.events)
}
