// Package remote is the HTTP transport shared by every call this module
// makes to an identity provider: JWKS downloads, token endpoint grants,
// and management API lookups.
//
// Every call runs under a request deadline, carries a User-Agent and an
// X-Request-ID header, has its response body capped at [MaxBodySize],
// and is classified on failure: a timeout becomes
// [sserr.CodeTimeoutDependency] and is logged as such, anything else
// becomes [sserr.CodeUnavailableDependency]. Non-2xx responses are not
// errors at this layer; callers decide what a status means.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-realm/internal/remote"

// MaxBodySize caps how much of a response body is read.
const MaxBodySize = 1 << 20

// DefaultUserAgent is sent when no User-Agent is configured.
const DefaultUserAgent = "stricklysoft-realm/1.0"

// RequestIDHeader carries the per-call correlation id.
const RequestIDHeader = "X-Request-ID"

// Log messages. Operators alert on the timeout message, so it must stay
// distinct from the generic one.
const (
	msgTimeout = "timeout while connecting to identity provider"
	msgError   = "error while connecting to identity provider"
)

// HTTPClient abstracts the HTTP client so callers can inject transports
// with custom TLS, proxies or test doubles. [http.Client] satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Timeouts is the per-call time budget.
type Timeouts struct {
	// Connect bounds TCP connection establishment.
	Connect time.Duration `json:"connect" yaml:"connect"`
	// Read bounds the wait for response headers once the request is sent.
	Read time.Duration `json:"read" yaml:"read"`
	// Request bounds the entire call including reading the body.
	Request time.Duration `json:"request" yaml:"request"`
}

// DefaultTimeouts returns the 10s connect, 60s read, 70s request budget.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 10 * time.Second,
		Read:    60 * time.Second,
		Request: 70 * time.Second,
	}
}

// WithDefaults returns t with zero fields replaced by the defaults.
func (t Timeouts) WithDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Read <= 0 {
		t.Read = d.Read
	}
	if t.Request <= 0 {
		t.Request = d.Request
	}
	return t
}

// NewHTTPClient builds an [http.Client] whose transport enforces the
// connect and read timeouts. The request timeout is applied per call by
// [Client] through the context.
func NewHTTPClient(t Timeouts) *http.Client {
	t = t.WithDefaults()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   t.Connect,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = t.Connect
	transport.ResponseHeaderTimeout = t.Read
	return &http.Client{Transport: transport}
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client built from the timeouts.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger used for transport failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client performs identity provider calls. It is safe for concurrent use.
type Client struct {
	http      HTTPClient
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New returns a Client using the given timeouts.
func New(t Timeouts, opts ...Option) *Client {
	t = t.WithDefaults()
	c := &Client{
		timeout:   t.Request,
		userAgent: DefaultUserAgent,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient(t)
	}
	return c
}

// Timeout returns the per-call request timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Request describes one outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Body       []byte
	RequestID  string
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Get issues a GET with the given extra headers.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Header: header})
}

// PostForm issues a form-encoded POST.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(ctx, Request{
		Method: http.MethodPost,
		URL:    rawURL,
		Header: h,
		Body:   []byte(form.Encode()),
	})
}

// PostJSON issues a POST with v encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, rawURL string, header http.Header, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "remote: failed to encode request body")
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/json")
	return c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Header: h, Body: body})
}

// Do performs the request under the request timeout and reads the body.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ctx, span := c.tracer.Start(ctx, "remote."+strings.ToLower(r.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.full", redactQuery(r.URL)),
			attribute.String("request.id", requestID),
		),
	)
	defer span.End()

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, sserr.Wrap(err, sserr.CodeInternal, "remote: failed to create request")
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(ctx, span, r.URL, requestID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, c.fail(ctx, span, r.URL, requestID, err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		RequestID:  requestID,
	}, nil
}

func (c *Client) fail(ctx context.Context, span trace.Span, rawURL, requestID string, err error) *sserr.Error {
	err = redactError(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return c.classify(ctx, rawURL, requestID, err)
}

// Failure logs and classifies a transport error raised outside [Client.Do],
// for example by an oauth2 token source using [Client.StdClient].
func (c *Client) Failure(ctx context.Context, rawURL string, err error) *sserr.Error {
	return c.classify(ctx, rawURL, RequestIDFromError(err), err)
}

func (c *Client) classify(ctx context.Context, rawURL, requestID string, err error) *sserr.Error {
	logURL := redactQuery(rawURL)
	err = redactError(err)
	if IsTimeout(err) {
		c.logger.WarnContext(ctx, msgTimeout,
			"url", logURL,
			"request_id", requestID,
			"error", err,
		)
		return sserr.Wrap(err, sserr.CodeTimeoutDependency, "remote: identity provider call timed out")
	}
	c.logger.WarnContext(ctx, msgError,
		"url", logURL,
		"request_id", requestID,
		"error", err,
	)
	return sserr.Wrap(err, sserr.CodeUnavailableDependency, "remote: identity provider call failed")
}

// StdClient returns an [http.Client] that sends every request through c's
// HTTP client with the User-Agent and X-Request-ID headers applied. It is
// meant for libraries that insist on an *http.Client.
func (c *Client) StdClient() *http.Client {
	return &http.Client{Transport: headerTransport{c: c}}
}

type headerTransport struct {
	c *Client
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.c.userAgent)
	if r.Header.Get(RequestIDHeader) == "" {
		r.Header.Set(RequestIDHeader, uuid.NewString())
	}
	resp, err := t.c.http.Do(r)
	if err != nil {
		return nil, &requestError{id: r.Header.Get(RequestIDHeader), err: err}
	}
	return resp, nil
}

// requestError carries the request id of a failed round trip.
type requestError struct {
	id  string
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }
func (e *requestError) Timeout() bool { return IsTimeout(e.err) }

// RequestIDFromError returns the request id recorded by [Client.StdClient]
// for a failed round trip, or "".
func RequestIDFromError(err error) string {
	var re *requestError
	if errors.As(err, &re) {
		return re.id
	}
	return ""
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// DecodeJSON unmarshals the response body into out. A body that does not
// decode is reported as an unavailable dependency.
func DecodeJSON(resp *Response, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "remote: identity provider returned an undecodable body").
			WithDetail("status", resp.StatusCode).
			WithDetail("request_id", resp.RequestID)
	}
	return nil
}

// JoinURL appends path to base, collapsing duplicate slashes at the seam.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// redactError strips the query string from the URL of any *url.Error in
// err's chain, so neither logs nor returned errors echo it.
func redactError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactQuery(ue.URL)
	}
	return err
}

// redactQuery drops the query string, which may carry e-mail addresses.
func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
