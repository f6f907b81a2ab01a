package httpclient

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/crankloop/internal/lane"
	"github.com/torosent/crankloop/internal/recorder"
)

// bodyLimit caps how much of a body is quoted in failure messages.
const bodyLimit = 1024

// Response is a recorded response with checks that record themselves.
type Response struct {
	*recorder.Response
	rec *recorder.Recorder
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

func (r *Response) check(name string, failure string) error {
	r.rec.Record(recorder.Assertion{At: r.rec.Now(), Name: name, Response: r.Response})
	if failure == "" {
		return nil
	}
	r.rec.Record(recorder.AssertionFailure{At: r.rec.Now(), Name: name, Response: r.Response, Message: failure})
	return &lane.AssertionError{Name: name, Message: failure}
}

// AssertOK fails for status codes of 400 and above.
func (r *Response) AssertOK() error {
	var msg string
	if r.StatusCode >= 400 {
		msg = fmt.Sprintf("request to %s didn't succeed (%d)", r.URL, r.StatusCode)
	}
	return r.check("assert_ok", msg)
}

// AssertFailed fails for status codes below 400.
func (r *Response) AssertFailed() error {
	var msg string
	if r.StatusCode < 400 {
		msg = fmt.Sprintf("request to %s didn't fail (%d)", r.URL, r.StatusCode)
	}
	return r.check("assert_failed", msg)
}

func (r *Response) assertClass(class int) error {
	var msg string
	if r.StatusCode/100 != class {
		msg = fmt.Sprintf("response code isn't %dxx, it's %d", class, r.StatusCode)
	}
	return r.check(fmt.Sprintf("assert_%dxx", class), msg)
}

func (r *Response) Assert2xx() error { return r.assertClass(2) }

func (r *Response) Assert3xx() error { return r.assertClass(3) }

func (r *Response) Assert4xx() error { return r.assertClass(4) }

func (r *Response) Assert5xx() error { return r.assertClass(5) }

// AssertStatusCode requires an exact status code.
func (r *Response) AssertStatusCode(code int) error {
	var msg string
	if r.StatusCode != code {
		msg = fmt.Sprintf("actual status code (%d) didn't match expected (%d)", r.StatusCode, code)
	}
	return r.check("assert_status_code", msg)
}

// AssertStatusCodeIn requires the status code to be one of codes.
func (r *Response) AssertStatusCodeIn(codes ...int) error {
	for _, code := range codes {
		if r.StatusCode == code {
			return r.check("assert_status_code_in", "")
		}
	}
	return r.check("assert_status_code_in",
		fmt.Sprintf("actual status code (%d) is not one of expected (%v)", r.StatusCode, codes))
}

// AssertInBody requires member to appear in the body.
func (r *Response) AssertInBody(member string) error {
	var msg string
	if !strings.Contains(r.Text(), member) {
		msg = fmt.Sprintf("%q wasn't found in response body", member)
	}
	return r.check("assert_in_body", msg)
}

// AssertNotInBody requires member to be absent from the body.
func (r *Response) AssertNotInBody(member string) error {
	var msg string
	if strings.Contains(r.Text(), member) {
		msg = fmt.Sprintf("%q was found in response body", member)
	}
	return r.check("assert_not_in_body", msg)
}

// AssertRegexInBody requires pattern to match somewhere in the body.
func (r *Response) AssertRegexInBody(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return r.check("assert_regex_in_body", fmt.Sprintf("invalid regex %q: %v", pattern, err))
	}
	var msg string
	if !re.Match(r.Body) {
		msg = fmt.Sprintf("regex %q didn't match response body: %s", pattern, truncate(r.Text()))
	}
	return r.check("assert_regex_in_body", msg)
}

// AssertHasHeader requires the response to carry header.
func (r *Response) AssertHasHeader(header string) error {
	var msg string
	if _, ok := r.Headers[http.CanonicalHeaderKey(header)]; !ok {
		msg = fmt.Sprintf("header %s wasn't found in response headers", header)
	}
	return r.check("assert_has_header", msg)
}

// AssertHeaderValue requires header to be present with exactly value.
func (r *Response) AssertHeaderValue(header, value string) error {
	var msg string
	if actual, ok := r.Headers[http.CanonicalHeaderKey(header)]; !ok {
		msg = fmt.Sprintf("header %s wasn't found in response headers", header)
	} else if strings.Join(actual, ", ") != value {
		msg = fmt.Sprintf("actual header value (%q) isn't equal to expected (%q)", strings.Join(actual, ", "), value)
	}
	return r.check("assert_header_value", msg)
}

// AssertJSONPath requires query to match the JSON body. A non-empty expected
// value must equal the first match.
func (r *Response) AssertJSONPath(query, expected string) error {
	value, found := lookupJSONPath(r.Body, query)
	var msg string
	switch {
	case !found:
		msg = fmt.Sprintf("JSONPath query %q didn't match response: %s", query, truncate(r.Text()))
	case expected != "" && value != expected:
		msg = fmt.Sprintf("actual value at JSONPath query (%q) isn't equal to expected (%q)", value, expected)
	}
	return r.check("assert_jsonpath", msg)
}

// AssertNotJSONPath requires query not to match the JSON body.
func (r *Response) AssertNotJSONPath(query string) error {
	var msg string
	if _, found := lookupJSONPath(r.Body, query); found {
		msg = fmt.Sprintf("JSONPath query %q did match response: %s", query, truncate(r.Text()))
	}
	return r.check("assert_not_jsonpath", msg)
}

// ExtractJSONPath returns the value at query, or an error when it is absent.
func (r *Response) ExtractJSONPath(query string) (string, error) {
	value, found := lookupJSONPath(r.Body, query)
	if !found {
		return "", fmt.Errorf("JSONPath %q not found in response from %s", query, r.URL)
	}
	return value, nil
}

// ExtractRegex returns the first capture group of pattern, or the whole
// match when the pattern has no groups.
func (r *Response) ExtractRegex(pattern string) (string, error) {
	return findRegex(r.Body, pattern)
}

// String mirrors the response line, "GET http://host/ => 200 OK".
func (r *Response) String() string {
	return r.Method + " " + r.URL + " => " + strconv.Itoa(r.StatusCode) + " " + r.Reason
}

func truncate(s string) string {
	if len(s) > bodyLimit {
		return s[:bodyLimit]
	}
	return s
}
