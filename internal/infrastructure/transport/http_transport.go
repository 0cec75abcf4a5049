// Package transport executes composed S2S calls over the network.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// DefaultMaxResponseBytes caps how much of a response body is read.
const DefaultMaxResponseBytes int64 = 10 << 20

// HTTPTransport is the production transport: a net/http client whose
// round-tripper is instrumented with OpenTelemetry.
type HTTPTransport struct {
	client   *http.Client
	maxBytes int64
	logger   logger.Logger
}

// Option customizes an HTTPTransport.
type Option func(*HTTPTransport)

// WithClient replaces the default client. Its round-tripper is used as is.
func WithClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.client = c }
}

// WithMaxResponseBytes caps the response body size. A larger body fails the
// call rather than being cut short.
func WithMaxResponseBytes(n int64) Option {
	return func(t *HTTPTransport) { t.maxBytes = n }
}

// NewHTTPTransport creates a transport. timeout bounds a whole call; zero means
// the caller's context is the only bound.
func NewHTTPTransport(timeout time.Duration, log logger.Logger, opts ...Option) *HTTPTransport {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	t := &HTTPTransport{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// Redirects would forward the bearer token to an unvetted host.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		maxBytes: DefaultMaxResponseBytes,
		logger:   log.WithComponent("HTTPTransport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute implements service.Transport.
func (t *HTTPTransport) Execute(ctx context.Context, req *service.OutboundRequest) (*service.OutboundResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errors.Transport("cannot build outbound request", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.logger.Warn(ctx, "outbound call failed", logger.Merge(
			logger.Fields{"method": req.Method, "error": err.Error()}, logger.Duration(time.Since(start))))
		return nil, errors.Transport("outbound call failed", err).WithMetadata("duration_ms", time.Since(start).Milliseconds())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, errors.Transport("reading response body failed", err).WithMetadata("status", resp.StatusCode)
	}
	if int64(len(data)) > t.maxBytes {
		t.logger.Warn(ctx, "outbound response too large", logger.Fields{"method": req.Method, "limit": t.maxBytes})
		return nil, errors.Transport(fmt.Sprintf("response body exceeds %d bytes", t.maxBytes), nil).
			WithMetadata("status", resp.StatusCode)
	}
	t.logger.Debug(ctx, "outbound call completed", logger.Merge(
		logger.Fields{"method": req.Method, "status": resp.StatusCode, "body_len": len(data)},
		logger.Duration(time.Since(start))))
	return &service.OutboundResponse{Status: resp.StatusCode, Headers: resp.Header.Clone(), Body: data}, nil
}

// Func adapts a function to service.Transport. Tests use it to inject a
// deterministic transport.
type Func func(ctx context.Context, req *service.OutboundRequest) (*service.OutboundResponse, error)

// Execute implements service.Transport.
func (f Func) Execute(ctx context.Context, req *service.OutboundRequest) (*service.OutboundResponse, error) {
	return f(ctx, req)
}

var (
	_ service.Transport = (*HTTPTransport)(nil)
	_ service.Transport = Func(nil)
)
