package application

import (
	"context"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/constants"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// CallRequest describes one outbound S2S call.
// CallRequest 描述一次出站服务间调用。
type CallRequest struct {
	Env     string
	Slug    string
	Version string
	// Method defaults to GET.
	Method string
	// Path is appended to the target's base URL, e.g. "/charges?limit=5".
	Path string
	// FullPath replaces the base URL's path entirely. Path and FullPath are
	// mutually exclusive.
	FullPath string
	Body     []byte
	// Headers are forwarded minus hop-by-hop and client credential headers.
	Headers   http.Header
	RequestID string
}

// CallResult is the downstream response. BodyText is never parsed.
// CallResult 为下游响应，BodyText 不做任何解析。
type CallResult struct {
	Status    int
	Headers   http.Header
	BodyText  string
	RequestID string
}

// TokenProvider hands out bearer tokens for outbound calls.
type TokenProvider interface {
	GetBearerToken(ctx context.Context, req BearerRequest) (string, error)
}

// TokenInvalidator is implemented by providers that can drop a rejected token.
type TokenInvalidator interface {
	InvalidateBearerToken(ctx context.Context, req BearerRequest)
}

// Dispatcher resolves a target, attaches a bearer token and executes the call.
// It never retries.
type Dispatcher struct {
	resolver service.Resolver
	tokens   TokenProvider
	// injected wins over network whenever set.
	injected    service.Transport
	network     service.Transport
	disabled    bool
	tokenTTLSec int64
	metrics     service.Metrics
	logger      logger.Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithInjectedTransport installs a deterministic transport that always wins
// over network dispatch, also when S2S is disabled.
func WithInjectedTransport(t service.Transport) DispatcherOption {
	return func(d *Dispatcher) { d.injected = t }
}

// WithNetworkTransport sets the production transport.
func WithNetworkTransport(t service.Transport) DispatcherOption {
	return func(d *Dispatcher) { d.network = t }
}

// WithS2SDisabled administratively disables network dispatch.
func WithS2SDisabled(disabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.disabled = disabled }
}

// WithCallTokenTTL sets the lifetime of tokens minted for calls.
func WithCallTokenTTL(sec int64) DispatcherOption {
	return func(d *Dispatcher) { d.tokenTTLSec = sec }
}

// WithDispatchMetrics attaches a metrics collector.
func WithDispatchMetrics(m service.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a dispatcher. A nil resolver or token provider, a
// missing network transport while enabled and without an injected one, or a
// non-positive token TTL is a ConfigurationError.
func NewDispatcher(resolver service.Resolver, tokens TokenProvider, log logger.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if resolver == nil {
		return nil, errors.Configuration("discovery.provider", "target resolver is required")
	}
	if tokens == nil {
		return nil, errors.Configuration("s2s.signing_key", "token provider is required")
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	d := &Dispatcher{
		resolver:    resolver,
		tokens:      tokens,
		tokenTTLSec: 300,
		metrics:     service.NewNoopMetrics(),
		logger:      log.WithComponent("Dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tokenTTLSec <= 0 {
		return nil, errors.Configuration("s2s.token_ttl_sec", "must be positive")
	}
	if d.injected == nil && d.network == nil && !d.disabled {
		return nil, errors.Configuration("s2s.transport", "a network or injected transport is required")
	}
	return d, nil
}

// Call executes req. Errors carry request_id and the target identity.
func (d *Dispatcher) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	requestID := req.RequestID
	if requestID == "" {
		if v, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok && v != "" {
			requestID = v
		} else {
			requestID = uuid.NewString()
		}
	}
	ctx = context.WithValue(ctx, constants.ContextKeyRequestID, requestID)
	correlation := map[string]interface{}{
		"request_id": requestID,
		"env":        req.Env,
		"slug":       req.Slug,
		"version":    req.Version,
	}
	fail := func(err error) (*CallResult, error) {
		d.metrics.RecordDispatch(req.Slug, 0, 0, string(errors.KindOf(err)))
		return nil, errors.Annotate(err, correlation)
	}

	transport := d.injected
	if transport == nil {
		if d.disabled {
			d.logger.Warn(ctx, "outbound call refused: s2s calls are disabled", logger.Fields(correlation))
			return fail(errors.PolicyBlocked(
				"s2s calls are disabled and no transport was injected; refusing to call " + req.Slug))
		}
		transport = d.network
	}

	if err := validateCall(req); err != nil {
		return fail(err)
	}

	target, err := d.resolver.ResolveTarget(ctx, req.Env, req.Slug, req.Version)
	if err != nil {
		return fail(err)
	}
	baseURL, err := target.ResolvedBaseURL()
	if err != nil {
		return fail(errors.Resolution(req.Env, req.Slug, req.Version, err))
	}
	callURL, err := composeURL(baseURL, req.Path, req.FullPath)
	if err != nil {
		return fail(err)
	}

	bearer := BearerRequest{Audience: req.Slug, TTLSec: d.tokenTTLSec}
	token, err := d.tokens.GetBearerToken(ctx, bearer)
	if err != nil {
		return fail(err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	headers := forwardableHeaders(req.Headers)
	headers.Set(constants.HeaderAuthorization, constants.BearerScheme+" "+token)
	headers.Set(constants.HeaderRequestID, requestID)

	start := time.Now()
	resp, err := transport.Execute(ctx, &service.OutboundRequest{
		Method:  method,
		URL:     callURL,
		Headers: headers,
		Body:    req.Body,
	})
	duration := time.Since(start)
	if err != nil {
		if _, ok := errors.AsS2SError(err); !ok {
			err = errors.Transport("outbound call failed", err)
		}
		d.logger.Warn(ctx, "outbound call failed", logger.Merge(logger.Fields(correlation),
			logger.Fields{"method": method, "error": err.Error()}, logger.Duration(duration)))
		d.metrics.RecordDispatch(req.Slug, 0, duration, string(errors.KindOf(err)))
		return nil, errors.Annotate(err, correlation)
	}

	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		if inv, ok := d.tokens.(TokenInvalidator); ok {
			inv.InvalidateBearerToken(ctx, bearer)
		}
		d.logger.Warn(ctx, "downstream rejected bearer token; cached token dropped",
			logger.Merge(logger.Fields(correlation), logger.Int("status", resp.Status)))
	}

	d.metrics.RecordDispatch(req.Slug, resp.Status, duration, "")
	d.logger.Info(ctx, "outbound call completed", logger.Merge(logger.Fields(correlation),
		logger.Fields{"method": method, "status": resp.Status}, logger.Duration(duration)))

	respHeaders := resp.Headers
	if respHeaders == nil {
		respHeaders = http.Header{}
	}
	return &CallResult{
		Status:    resp.Status,
		Headers:   respHeaders,
		BodyText:  string(resp.Body),
		RequestID: requestID,
	}, nil
}

func validateCall(req CallRequest) error {
	switch {
	case req.Env == "":
		return errors.InvalidRequest("env", "must not be empty")
	case req.Slug == "":
		return errors.InvalidRequest("slug", "must not be empty")
	case req.Version == "":
		return errors.InvalidRequest("version", "must not be empty")
	case req.Path != "" && req.FullPath != "":
		return errors.InvalidRequest("path", "path and full_path are mutually exclusive")
	}
	return nil
}

// composeURL joins path onto baseURL, or replaces the base path with fullPath.
// Absolute references are refused so a caller cannot redirect the token to a
// host discovery did not vouch for.
func composeURL(baseURL, path, fullPath string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.InvalidRequest("target", "malformed base url").WithCause(err)
	}
	field, ref := "path", path
	if fullPath != "" {
		field, ref = "full_path", fullPath
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", errors.InvalidRequest(field, "malformed path").WithCause(err)
	}
	if rel.IsAbs() || rel.Host != "" {
		return "", errors.InvalidRequest(field, "must be relative to the resolved target")
	}

	out := *base
	if fullPath != "" {
		out.Path = "/" + strings.TrimLeft(rel.Path, "/")
	} else {
		out.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(rel.Path, "/")
	}
	out.RawPath = ""
	out.RawQuery = rel.RawQuery
	out.Fragment = ""
	return out.String(), nil
}

// forwardableHeaders copies in without hop-by-hop headers, headers named in
// Connection, and the caller's own credentials.
func forwardableHeaders(in http.Header) http.Header {
	out := http.Header{}
	drop := map[string]struct{}{}
	for _, h := range constants.HopByHopHeaders {
		drop[textproto.CanonicalMIMEHeaderKey(h)] = struct{}{}
	}
	for _, h := range constants.ClientAuthHeaders {
		drop[textproto.CanonicalMIMEHeaderKey(h)] = struct{}{}
	}
	for _, v := range in.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				drop[textproto.CanonicalMIMEHeaderKey(name)] = struct{}{}
			}
		}
	}
	for k, vs := range in {
		if _, skip := drop[textproto.CanonicalMIMEHeaderKey(k)]; skip {
			continue
		}
		out[textproto.CanonicalMIMEHeaderKey(k)] = append([]string(nil), vs...)
	}
	return out
}
