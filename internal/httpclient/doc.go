// Package httpclient is the HTTP vocabulary scenario code uses to drive a
// system under test.
//
// A [Target] wraps a tuned [net/http.Client] and writes every request it
// makes to a lane's [recorder.Recorder]:
//
//	target := httpclient.NewTarget(lc.Recorder,
//		httpclient.WithBaseURL("http://localhost:8080"),
//		httpclient.WithTimeout(5*time.Second),
//	)
//	resp, err := target.Get(ctx, "/api/items")
//	if err != nil {
//		return err
//	}
//	if err := resp.AssertOK(); err != nil {
//		return err
//	}
//	id, err := resp.ExtractJSONPath("$.items.0.id")
//
// Assertions record an Assertion event, plus an AssertionFailure event when
// the check does not hold, and return a [*lane.AssertionError] so the test
// is classified as failed rather than broken.
//
// Requests that never produce a response are recorded with status code
// [recorder.FailedStatusCode] and the transport error is returned.
//
// When a tracer is configured each request gets a client span and, with
// propagation enabled, W3C trace context headers.
package httpclient
