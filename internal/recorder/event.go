// Package recorder holds the per-lane event log that scenario code writes to
// while it runs and the worker drains after every iteration.
package recorder

import (
	"net/http"
	"time"
)

// Event is one immutable entry of a lane's recording.
type Event interface {
	Timestamp() time.Time
}

// Response is the captured outcome of one request. Events refer to a response
// by pointer, so the same *Response identifies the request it belongs to.
type Response struct {
	Method         string
	URL            string
	StatusCode     int
	Reason         string
	Headers        http.Header
	Body           []byte
	RequestHeaders http.Header
	RequestBody    []byte
	RequestCookies map[string]string
	Elapsed        time.Duration
}

// FailedStatusCode is reported for requests that never produced a response.
const FailedStatusCode = 999

// Request records a completed (or failed) request.
type Request struct {
	At       time.Time
	Method   string
	Address  string
	Start    time.Time
	Elapsed  time.Duration
	Response *Response
	Err      error
}

func (e Request) Timestamp() time.Time { return e.At }

// TransactionStarted opens a named group of requests.
type TransactionStarted struct {
	At   time.Time
	Name string
}

func (e TransactionStarted) Timestamp() time.Time { return e.At }

// TransactionEnded closes the innermost open group. Txn carries its timing and
// any result set by the scenario.
type TransactionEnded struct {
	At   time.Time
	Name string
	Txn  *Transaction
}

func (e TransactionEnded) Timestamp() time.Time { return e.At }

// Assertion records that a named check was applied to a response.
type Assertion struct {
	At       time.Time
	Name     string
	Response *Response
}

func (e Assertion) Timestamp() time.Time { return e.At }

// AssertionFailure records that a named check on a response did not hold.
type AssertionFailure struct {
	At       time.Time
	Name     string
	Response *Response
	Message  string
}

func (e AssertionFailure) Timestamp() time.Time { return e.At }
