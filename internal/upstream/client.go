// Package upstream is the REST client for the domain service behind the gateway.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"salasgw/internal/metrics"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 10 << 20
)

// Kind classifies calls that produced no usable upstream response.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
	KindUnreachable Kind = "unreachable"
	KindMalformed   Kind = "malformed"
)

// ErrBodyTooLarge is returned when a response exceeds the read limit.
var ErrBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)

// Error wraps a failed upstream call.
type Error struct {
	Kind   Kind
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s %s: %s: %v", e.Method, e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an upstream Error of kind k.
func IsKind(err error, k Kind) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Kind == k
}

// Request is one outbound call. Path is relative to the base URL and is sent
// with a trailing slash; RawQuery and Body are forwarded as-is.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Body     []byte
	Header   http.Header
}

// Response is the upstream answer, whatever its status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// ContentType returns the upstream Content-Type header.
func (r *Response) ContentType() string { return r.Header.Get("Content-Type") }

// Client calls the upstream REST service. It never retries.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Metrics    *metrics.Metrics
}

// New creates a client with sane defaults.
func New(baseURL string, timeout time.Duration, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Timeout:    timeout,
		Metrics:    m,
	}
}

// URL builds the upstream URL for path, appending the trailing slash the
// upstream requires and the raw query unchanged.
func (c *Client) URL(path, rawQuery string) string {
	p := strings.Trim(path, "/")
	u := c.BaseURL + "/"
	if p != "" {
		u += p + "/"
	}
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// Do performs req within the client timeout. Non-2xx statuses are returned
// as a Response, not an error; errors mean no usable response arrived.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := c.URL(req.Path, req.RawQuery)
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Method: req.Method, URL: target, Err: err}
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	res, err := client.Do(httpReq)
	if err != nil {
		uerr := &Error{Kind: classify(ctx, err), Method: req.Method, URL: target, Err: err}
		c.Metrics.ObserveError(metrics.UpstreamREST, string(uerr.Kind))
		return nil, uerr
	}
	defer res.Body.Close()
	data, err := readBody(res.Body)
	if err != nil {
		kind := classify(ctx, err)
		if kind == KindUnreachable || errors.Is(err, ErrBodyTooLarge) {
			kind = KindMalformed
		}
		c.Metrics.ObserveError(metrics.UpstreamREST, string(kind))
		return nil, &Error{Kind: kind, Method: req.Method, URL: target, Err: err}
	}
	c.Metrics.ObserveCall(metrics.UpstreamREST, req.Method, res.StatusCode, time.Since(start))
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

// readBody reads at most maxBodyBytes and fails instead of truncating.
func readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

func classify(ctx context.Context, err error) Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return KindCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}
