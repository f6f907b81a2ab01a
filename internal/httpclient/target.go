package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/crankloop/internal/recorder"
	"github.com/torosent/crankloop/internal/tracing"
)

// Target issues requests against one base address on behalf of one lane.
type Target struct {
	rec       *recorder.Recorder
	client    *http.Client
	baseURL   string
	headers   http.Header
	timeout   time.Duration
	keepAlive bool
	cookies   bool
	tracer    trace.Tracer
	propagate bool
	logger    *zap.Logger
}

// Option configures a Target.
type Option func(*Target)

// WithBaseURL sets the address relative paths are resolved against.
func WithBaseURL(base string) Option {
	return func(t *Target) { t.baseURL = strings.TrimRight(base, "/") }
}

// WithHeaders adds headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(t *Target) {
		for k, v := range headers {
			t.headers.Set(k, v)
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(t *Target) { t.timeout = d }
}

// WithClient replaces the default client.
func WithClient(c *http.Client) Option {
	return func(t *Target) { t.client = c }
}

// WithKeepAlive controls connection reuse. Enabled by default.
func WithKeepAlive(enabled bool) Option {
	return func(t *Target) { t.keepAlive = enabled }
}

// WithCookies gives the target its own cookie jar. Enabled by default.
func WithCookies(enabled bool) Option {
	return func(t *Target) { t.cookies = enabled }
}

// WithTracer starts a client span per request. With propagate set the trace
// context is injected into the outgoing headers.
func WithTracer(tracer trace.Tracer, propagate bool) Option {
	return func(t *Target) {
		t.tracer = tracer
		t.propagate = propagate
	}
}

// WithLogger sets the logger used for request debugging.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Target) { t.logger = logger }
}

// NewTarget returns a target that records into rec.
func NewTarget(rec *recorder.Recorder, opts ...Option) *Target {
	t := &Target{
		rec:       rec,
		headers:   http.Header{},
		timeout:   30 * time.Second,
		keepAlive: true,
		cookies:   true,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	switch {
	case t.client == nil:
		t.client = NewClient(t.timeout, t.cookies)
	case t.cookies && t.client.Jar == nil:
		t.client = withCookies(t.client)
	}
	return t
}

type call struct {
	headers http.Header
	query   url.Values
	body    []byte
	err     error
}

// RequestOption customizes a single request.
type RequestOption func(*call)

// Header sets a request header.
func Header(key, value string) RequestOption {
	return func(c *call) { c.headers.Set(key, value) }
}

// Query adds a query parameter.
func Query(key, value string) RequestOption {
	return func(c *call) { c.query.Add(key, value) }
}

// Body sets the raw request body.
func Body(body []byte) RequestOption {
	return func(c *call) { c.body = body }
}

// JSONBody encodes v as the request body and sets the content type.
func JSONBody(v any) RequestOption {
	return func(c *call) {
		data, err := json.Marshal(v)
		if err != nil {
			c.err = fmt.Errorf("encode json body: %w", err)
			return
		}
		c.body = data
		c.headers.Set("Content-Type", "application/json")
	}
}

func (t *Target) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return t.Request(ctx, http.MethodGet, path, opts...)
}

func (t *Target) Post(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return t.Request(ctx, http.MethodPost, path, opts...)
}

func (t *Target) Put(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return t.Request(ctx, http.MethodPut, path, opts...)
}

func (t *Target) Patch(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return t.Request(ctx, http.MethodPatch, path, opts...)
}

func (t *Target) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return t.Request(ctx, http.MethodDelete, path, opts...)
}

func (t *Target) Head(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return t.Request(ctx, http.MethodHead, path, opts...)
}

// Request sends one request and records it. A transport failure is recorded
// with status code 999 and returned together with the synthetic response.
func (t *Target) Request(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	c := &call{headers: http.Header{}, query: url.Values{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.err != nil {
		return nil, c.err
	}

	address := t.resolve(path)
	if len(c.query) > 0 {
		sep := "?"
		if strings.Contains(address, "?") {
			sep = "&"
		}
		address += sep + c.query.Encode()
	}
	method = strings.ToUpper(method)

	var spanErr error
	if t.tracer != nil {
		var span trace.Span
		ctx, span = tracing.StartRequestSpan(ctx, t.tracer, method, address)
		defer func() { tracing.EndSpan(span, spanErr) }()
	}

	req, err := http.NewRequestWithContext(ctx, method, address, bytes.NewReader(c.body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if len(c.body) == 0 {
		req.Body = http.NoBody
	}
	for key, values := range t.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	for key, values := range c.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	if !t.keepAlive {
		req.Close = true
	}
	if t.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	captured := &recorder.Response{
		Method:         method,
		URL:            address,
		RequestHeaders: req.Header.Clone(),
		RequestBody:    c.body,
		RequestCookies: t.requestCookies(req),
	}

	start := t.rec.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		captured.Elapsed = t.rec.Now().Sub(start)
		captured.StatusCode = recorder.FailedStatusCode
		captured.Reason = err.Error()
		spanErr = err
		t.rec.Record(recorder.Request{
			At: t.rec.Now(), Method: method, Address: address,
			Start: start, Elapsed: captured.Elapsed, Response: captured, Err: err,
		})
		t.logger.Debug("request failed", zap.String("method", method), zap.String("url", address), zap.Error(err))
		return &Response{Response: captured, rec: t.rec}, fmt.Errorf("%s %s: %w", method, address, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	captured.Elapsed = t.rec.Now().Sub(start)
	captured.StatusCode = resp.StatusCode
	captured.Reason = reason(resp)
	captured.Headers = resp.Header.Clone()
	captured.Body = body
	if resp.Request != nil && resp.Request.URL != nil {
		captured.URL = resp.Request.URL.String()
	}

	t.rec.Record(recorder.Request{
		At: t.rec.Now(), Method: method, Address: address,
		Start: start, Elapsed: captured.Elapsed, Response: captured, Err: readErr,
	})
	if t.tracer != nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}
	t.logger.Debug("request",
		zap.String("method", method),
		zap.String("url", address),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", captured.Elapsed),
	)
	if readErr != nil {
		return &Response{Response: captured, rec: t.rec}, fmt.Errorf("read response body: %w", readErr)
	}
	return &Response{Response: captured, rec: t.rec}, nil
}

func (t *Target) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") || t.baseURL == "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return t.baseURL + path
}

func (t *Target) requestCookies(req *http.Request) map[string]string {
	cookies := map[string]string{}
	if t.client.Jar != nil {
		for _, c := range t.client.Jar.Cookies(req.URL) {
			cookies[c.Name] = c.Value
		}
	}
	for _, c := range req.Cookies() {
		cookies[c.Name] = c.Value
	}
	return cookies
}

func reason(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
}
