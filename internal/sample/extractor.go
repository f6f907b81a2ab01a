package sample

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/torosent/crankloop/internal/recorder"
)

var (
	// ErrUnbalancedTransaction is returned when transaction start and end
	// events do not pair up within one recording.
	ErrUnbalancedTransaction = errors.New("unbalanced transactions")
	// ErrUnknownResponse is returned when an assertion refers to a response
	// that no request in the recording produced.
	ErrUnknownResponse = errors.New("assertion for unknown response")
)

// Extractor rebuilds a sample tree from a flat recording. An Extractor may be
// reused for many recordings but not concurrently.
type Extractor struct {
	stack     []*Sample
	responses map[*recorder.Response]*Sample
}

// NewExtractor returns a ready Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Parse attaches the requests, transactions and assertions found in events
// under root and returns root. If the recording is malformed, root is left
// exactly as it was passed in and the error wraps ErrUnbalancedTransaction or
// ErrUnknownResponse.
func (x *Extractor) Parse(events []recorder.Event, root *Sample) (*Sample, error) {
	snapshot := snapshotOf(root)
	x.stack = append(x.stack[:0], root)
	x.responses = make(map[*recorder.Response]*Sample)
	defer func() {
		x.stack = x.stack[:0]
		x.responses = nil
	}()

	for i, event := range events {
		if err := x.apply(event); err != nil {
			snapshot.restore()
			return root, fmt.Errorf("event %d: %w", i, err)
		}
	}
	if len(x.stack) != 1 {
		snapshot.restore()
		return root, fmt.Errorf("%w: %d transaction(s) left open", ErrUnbalancedTransaction, len(x.stack)-1)
	}
	return root, nil
}

func (x *Extractor) apply(event recorder.Event) error {
	switch e := event.(type) {
	case recorder.Request:
		x.request(e)
	case recorder.TransactionStarted:
		x.transactionStarted(e)
	case recorder.TransactionEnded:
		return x.transactionEnded(e)
	case recorder.Assertion:
		target, ok := x.responses[e.Response]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownResponse, e.Name)
		}
		target.AddAssertion(e.Name)
	case recorder.AssertionFailure:
		target, ok := x.responses[e.Response]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownResponse, e.Name)
		}
		target.SetAssertionFailed(e.Name, e.Message, "")
	default:
		return fmt.Errorf("unknown event %T", event)
	}
	return nil
}

func (x *Extractor) top() *Sample {
	return x.stack[len(x.stack)-1]
}

func (x *Extractor) request(e recorder.Request) {
	current := x.top()
	child := New(current.TestCase, e.Address, StatusPassed)
	child.StartTime = e.Start
	if child.StartTime.IsZero() {
		child.StartTime = e.At
	}
	child.Duration = e.Elapsed
	child.Path = appendPath(current.Path, "request", e.Address)
	if e.Response != nil {
		child.Extras = requestExtras(e)
		x.responses[e.Response] = child
	}
	current.AddChild(child)
	if e.Err != nil {
		child.SetBroken(e.Err.Error(), "")
	}
}

func (x *Extractor) transactionStarted(e recorder.TransactionStarted) {
	current := x.top()
	txn := New(current.TestCase, e.Name, StatusPassed)
	txn.StartTime = e.At
	txn.Path = appendPath(current.Path, "transaction", e.Name)
	// Linked to its parent now so failures inside it reach the root before it ends.
	txn.parent = current
	x.stack = append(x.stack, txn)
}

func (x *Extractor) transactionEnded(e recorder.TransactionEnded) error {
	if len(x.stack) < 2 {
		return fmt.Errorf("%w: end of %q without a start", ErrUnbalancedTransaction, e.Name)
	}
	node := x.top()
	if node.TestCase != e.Name {
		return fmt.Errorf("%w: end of %q while %q is open", ErrUnbalancedTransaction, e.Name, node.TestCase)
	}
	x.stack = x.stack[:len(x.stack)-1]

	txn := e.Txn
	if txn != nil {
		if !txn.StartTime().IsZero() {
			node.StartTime = txn.StartTime()
		}
		node.Duration = txn.Duration()
	} else {
		node.Duration = e.At.Sub(node.StartTime)
	}

	// An explicit result decides this node only. Failures inside it have
	// already reached the ancestors and stay there.
	if success, set := resultOf(txn); set {
		if success {
			node.Status = StatusPassed
			node.ErrorMessage, node.ErrorTrace = "", ""
		} else {
			node.SetFailed(txn.Message(), "")
		}
	} else {
		for _, child := range node.Children {
			if child.Status.IsFailure() {
				node.Status = child.Status
				node.ErrorMessage = child.ErrorMessage
				node.ErrorTrace = child.ErrorTrace
				break
			}
		}
	}

	node.Extras = transactionExtras(node, txn)
	x.top().AddChild(node)
	return nil
}

func resultOf(txn *recorder.Transaction) (bool, bool) {
	if txn == nil {
		return false, false
	}
	return txn.Result()
}

func appendPath(base []PathComponent, kind, value string) []PathComponent {
	path := make([]PathComponent, 0, len(base)+1)
	path = append(path, base...)
	return append(path, PathComponent{Kind: kind, Value: value})
}

type rootSnapshot struct {
	root     *Sample
	status   Status
	message  string
	trace    string
	children int
}

func snapshotOf(root *Sample) rootSnapshot {
	return rootSnapshot{
		root:     root,
		status:   root.Status,
		message:  root.ErrorMessage,
		trace:    root.ErrorTrace,
		children: len(root.Children),
	}
}

func (s rootSnapshot) restore() {
	s.root.Status = s.status
	s.root.ErrorMessage = s.message
	s.root.ErrorTrace = s.trace
	for _, child := range s.root.Children[s.children:] {
		child.parent = nil
	}
	s.root.Children = s.root.Children[:s.children]
}

type extrasFields struct {
	url             string
	method          string
	statusCode      any
	reason          string
	responseHeaders map[string]string
	responseBody    string
	responseSize    int
	responseTime    time.Duration
	requestBody     string
	requestCookies  map[string]string
	requestHeaders  map[string]string
}

func (f extrasFields) toMap() map[string]any {
	ms := f.responseTime.Milliseconds()
	cookiesRaw := joinPairs(f.requestCookies, "=", "; ")
	return map[string]any{
		"responseCode":        f.statusCode,
		"responseMessage":     f.reason,
		"responseTime":        ms,
		"connectTime":         0,
		"latency":             ms,
		"responseSize":        f.responseSize,
		"requestSize":         0,
		"requestMethod":       f.method,
		"requestURI":          f.url,
		"responseBody":        f.responseBody,
		"requestBody":         f.requestBody,
		"requestCookies":      f.requestCookies,
		"requestHeaders":      f.requestHeaders,
		"responseHeaders":     f.responseHeaders,
		"requestCookiesRaw":   cookiesRaw,
		"responseBodySize":    len(f.responseBody),
		"requestBodySize":     len(f.requestBody),
		"requestCookiesSize":  len(cookiesRaw),
		"requestHeadersSize":  len(joinPairs(f.requestHeaders, ": ", "\n")),
		"responseHeadersSize": len(joinPairs(f.responseHeaders, ": ", "\n")),
	}
}

func requestExtras(e recorder.Request) map[string]any {
	resp := e.Response
	method := resp.Method
	if method == "" {
		method = e.Method
	}
	url := resp.URL
	if url == "" {
		url = e.Address
	}
	return extrasFields{
		url:             url,
		method:          method,
		statusCode:      resp.StatusCode,
		reason:          resp.Reason,
		responseHeaders: flattenHeader(resp.Headers),
		responseBody:    string(resp.Body),
		responseSize:    len(resp.Body),
		responseTime:    resp.Elapsed,
		requestBody:     string(resp.RequestBody),
		requestCookies:  copyStrings(resp.RequestCookies),
		requestHeaders:  flattenHeader(resp.RequestHeaders),
	}.toMap()
}

// transactionExtras describes a transaction by its last child's request,
// overridden with anything the scenario set on the transaction itself.
func transactionExtras(node *Sample, txn *recorder.Transaction) map[string]any {
	var last map[string]any
	if n := len(node.Children); n > 0 {
		last = node.Children[n-1].Extras
	}

	fields := extrasFields{
		url:             node.TestCase,
		method:          stringExtra(last, "requestMethod"),
		statusCode:      last["responseCode"],
		reason:          stringExtra(last, "responseMessage"),
		responseHeaders: stringMapExtra(last, "responseHeaders"),
		responseBody:    stringExtra(last, "responseBody"),
		responseTime:    node.Duration,
		requestBody:     stringExtra(last, "requestBody"),
		requestCookies:  stringMapExtra(last, "requestCookies"),
		requestHeaders:  stringMapExtra(last, "requestHeaders"),
	}

	extras := map[string]any{}
	if txn != nil {
		if code := txn.ResponseCode(); code != 0 {
			fields.statusCode = code
		}
		if body := txn.ResponseBody(); body != "" {
			fields.responseBody = body
		}
		if body := txn.RequestBody(); body != "" {
			fields.requestBody = body
		}
		extras = txn.Extras()
	}
	fields.responseSize = len(fields.responseBody)

	for k, v := range fields.toMap() {
		extras[k] = v
	}
	return extras
}

func stringExtra(extras map[string]any, key string) string {
	s, _ := extras[key].(string)
	return s
}

func stringMapExtra(extras map[string]any, key string) map[string]string {
	m, _ := extras[key].(map[string]string)
	return copyStrings(m)
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, values := range h {
		out[k] = strings.Join(values, ", ")
	}
	return out
}

func joinPairs(m map[string]string, kv, sep string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+kv+m[k])
	}
	return strings.Join(parts, sep)
}
