package application

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/internal/domain/service/mocks"
	"github.com/turtacn/s2s/internal/infrastructure/transport"
	"github.com/turtacn/s2s/pkg/errors"
)

type stubTokens struct {
	mu          sync.Mutex
	token       string
	err         error
	requests    []BearerRequest
	invalidated []BearerRequest
}

func (s *stubTokens) GetBearerToken(_ context.Context, req BearerRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.token, s.err
}

func (s *stubTokens) InvalidateBearerToken(_ context.Context, req BearerRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, req)
}

func billingResolver() *mocks.MockResolver {
	r := &mocks.MockResolver{}
	r.On("ResolveTarget", mock.Anything, "prod", "billing", "v2").
		Return(&models.TargetDescriptor{Env: "prod", Slug: "billing", Version: "v2", BaseURL: "http://billing:8080/api"}, nil)
	return r
}

func billingCall() CallRequest {
	return CallRequest{Env: "prod", Slug: "billing", Version: "v2", Method: http.MethodPost, Path: "/charges?limit=5",
		Body: []byte(`{"amount":5}`), RequestID: "req-1"}
}

func TestDispatcher_ComposesAuthenticatedCall(t *testing.T) {
	tokens := &stubTokens{token: "h.p.s"}
	var got *service.OutboundRequest
	injected := transport.Func(func(_ context.Context, req *service.OutboundRequest) (*service.OutboundResponse, error) {
		got = req
		return &service.OutboundResponse{Status: http.StatusCreated, Headers: http.Header{"X-Charge": []string{"ch_1"}}, Body: []byte(`{"id":"ch_1"}`)}, nil
	})
	d, err := NewDispatcher(billingResolver(), tokens, nil, WithInjectedTransport(injected), WithCallTokenTTL(120))
	require.NoError(t, err)

	req := billingCall()
	req.Headers = http.Header{
		"Authorization":   []string{"Bearer end-user"},
		"Cookie":          []string{"session=1"},
		"Connection":      []string{"keep-alive, X-Trace-Hop"},
		"X-Trace-Hop":     []string{"1"},
		"Keep-Alive":      []string{"timeout=5"},
		"Accept-Language": []string{"de"},
	}
	res, err := d.Call(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Equal(t, `{"id":"ch_1"}`, res.BodyText)
	assert.Equal(t, "ch_1", res.Headers.Get("X-Charge"))
	assert.Equal(t, "req-1", res.RequestID)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "http://billing:8080/api/charges?limit=5", got.URL)
	assert.Equal(t, "Bearer h.p.s", got.Headers.Get("Authorization"))
	assert.Equal(t, "req-1", got.Headers.Get("X-Request-Id"))
	assert.Equal(t, "de", got.Headers.Get("Accept-Language"))
	for _, h := range []string{"Cookie", "Connection", "X-Trace-Hop", "Keep-Alive"} {
		assert.Empty(t, got.Headers.Get(h), h)
	}
	assert.Equal(t, []BearerRequest{{Audience: "billing", TTLSec: 120}}, tokens.requests)
}

func TestDispatcher_PolicyBlockedWithoutInjectedTransport(t *testing.T) {
	resolver := &mocks.MockResolver{}
	tokens := &stubTokens{token: "t"}
	network := &mocks.MockTransport{}
	d, err := NewDispatcher(resolver, tokens, nil, WithS2SDisabled(true), WithNetworkTransport(network))
	require.NoError(t, err)

	_, err = d.Call(context.Background(), billingCall())
	require.True(t, errors.Is(err, errors.ErrPolicyBlocked))
	assert.Equal(t, http.StatusServiceUnavailable, errors.HTTPStatusOf(err))
	s2sErr, _ := errors.AsS2SError(err)
	assert.Equal(t, "req-1", s2sErr.Metadata()["request_id"])
	assert.Equal(t, "billing", s2sErr.Metadata()["slug"])

	resolver.AssertNotCalled(t, "ResolveTarget", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	network.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assert.Empty(t, tokens.requests)
}

func TestDispatcher_InjectedTransportWinsWhenDisabled(t *testing.T) {
	injected := &mocks.MockTransport{}
	injected.On("Execute", mock.Anything, mock.Anything).Return(&service.OutboundResponse{Status: http.StatusOK}, nil).Once()
	d, err := NewDispatcher(billingResolver(), &stubTokens{token: "t"}, nil,
		WithS2SDisabled(true), WithInjectedTransport(injected))
	require.NoError(t, err)

	res, err := d.Call(context.Background(), billingCall())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	injected.AssertExpectations(t)
}

func TestDispatcher_InvalidatesRejectedToken(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		tokens := &stubTokens{token: "stale"}
		injected := transport.Func(func(context.Context, *service.OutboundRequest) (*service.OutboundResponse, error) {
			return &service.OutboundResponse{Status: status, Body: []byte("denied")}, nil
		})
		d, err := NewDispatcher(billingResolver(), tokens, nil, WithInjectedTransport(injected))
		require.NoError(t, err)

		res, err := d.Call(context.Background(), billingCall())
		require.NoError(t, err)
		assert.Equal(t, status, res.Status)
		assert.Equal(t, "denied", res.BodyText)
		assert.Equal(t, []BearerRequest{{Audience: "billing", TTLSec: 300}}, tokens.invalidated)
	}
}

func TestDispatcher_ErrorTaxonomy(t *testing.T) {
	notFound := &mocks.MockResolver{}
	notFound.On("ResolveTarget", mock.Anything, "prod", "billing", "v2").
		Return(nil, errors.Resolution("prod", "billing", "v2", service.ErrServiceNotFound))
	ok := transport.Func(func(context.Context, *service.OutboundRequest) (*service.OutboundResponse, error) {
		return &service.OutboundResponse{Status: http.StatusOK}, nil
	})
	broken := transport.Func(func(context.Context, *service.OutboundRequest) (*service.OutboundResponse, error) {
		return nil, stderrors.New("connection reset by peer")
	})

	tests := []struct {
		name      string
		resolver  service.Resolver
		tokens    *stubTokens
		transport service.Transport
		kind      error
		status    int
	}{
		{"resolution", notFound, &stubTokens{token: "t"}, ok, errors.ErrResolution, http.StatusNotFound},
		{"signing", billingResolver(), &stubTokens{err: errors.Signing("kid", "remote sign failed", nil)}, ok, errors.ErrSigning, http.StatusInternalServerError},
		{"configuration", billingResolver(), &stubTokens{err: errors.Configuration("s2s.issuer", "missing")}, ok, errors.ErrConfiguration, http.StatusInternalServerError},
		{"transport", billingResolver(), &stubTokens{token: "t"}, broken, errors.ErrTransport, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDispatcher(tt.resolver, tt.tokens, nil, WithInjectedTransport(tt.transport))
			require.NoError(t, err)
			_, err = d.Call(context.Background(), billingCall())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind))
			assert.Equal(t, tt.status, errors.HTTPStatusOf(err))
			s2sErr, _ := errors.AsS2SError(err)
			assert.Equal(t, "req-1", s2sErr.Metadata()["request_id"])
			assert.Equal(t, "prod", s2sErr.Metadata()["env"])
			assert.Equal(t, "billing", s2sErr.Metadata()["slug"])
			assert.Equal(t, "v2", s2sErr.Metadata()["version"])
		})
	}
}

func TestDispatcher_InvalidCalls(t *testing.T) {
	injected := &mocks.MockTransport{}
	d, err := NewDispatcher(billingResolver(), &stubTokens{token: "t"}, nil, WithInjectedTransport(injected))
	require.NoError(t, err)

	for _, req := range []CallRequest{
		{Env: "prod", Version: "v2"},
		{Env: "prod", Slug: "billing", Version: "v2", Path: "/a", FullPath: "/b"},
		{Env: "prod", Slug: "billing", Version: "v2", Path: "http://evil.example/steal"},
		{Env: "prod", Slug: "billing", Version: "v2", FullPath: "//evil.example/steal"},
	} {
		_, err := d.Call(context.Background(), req)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "%+v", req)
	}
	injected.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestDispatcher_Defaults(t *testing.T) {
	var seen *service.OutboundRequest
	injected := transport.Func(func(_ context.Context, req *service.OutboundRequest) (*service.OutboundResponse, error) {
		seen = req
		return &service.OutboundResponse{Status: http.StatusNoContent}, nil
	})
	d, err := NewDispatcher(billingResolver(), &stubTokens{token: "t"}, nil, WithInjectedTransport(injected))
	require.NoError(t, err)

	req := billingCall()
	req.RequestID = ""
	req.Method = ""
	res, err := d.Call(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, http.MethodGet, seen.Method)
	assert.Len(t, seen.Headers.Get("X-Request-Id"), 36)
	assert.Equal(t, seen.Headers.Get("X-Request-Id"), res.RequestID)
	assert.NotNil(t, res.Headers)
}

func TestNewDispatcher_FailFast(t *testing.T) {
	net := &mocks.MockTransport{}
	_, err := NewDispatcher(nil, &stubTokens{}, nil, WithNetworkTransport(net))
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	_, err = NewDispatcher(billingResolver(), nil, nil, WithNetworkTransport(net))
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	_, err = NewDispatcher(billingResolver(), &stubTokens{}, nil)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
	_, err = NewDispatcher(billingResolver(), &stubTokens{}, nil, WithNetworkTransport(net), WithCallTokenTTL(0))
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestComposeURL(t *testing.T) {
	tests := []struct {
		base, path, full, want string
	}{
		{"http://svc:8080", "/v1/items", "", "http://svc:8080/v1/items"},
		{"http://svc:8080/", "v1/items", "", "http://svc:8080/v1/items"},
		{"http://svc:8080/api/", "/v1/items?x=1", "", "http://svc:8080/api/v1/items?x=1"},
		{"http://svc:8080/api", "", "/health", "http://svc:8080/health"},
		{"http://svc:8080/api?debug=1", "", "", "http://svc:8080/api/"},
	}
	for _, tt := range tests {
		got, err := composeURL(tt.base, tt.path, tt.full)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

// End to end through the real resolver, bearer service and HTTP transport.
func TestDispatcher_EndToEnd(t *testing.T) {
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(append([]byte("echo:"), body...))
	}))
	defer srv.Close()

	authority := &mocks.MockDiscoveryAuthority{}
	authority.On("LookupService", mock.Anything, "prod", "billing", "v2").
		Return(&models.TargetDescriptor{BaseURL: srv.URL}, nil).Once()
	resolver, err := service.NewTargetResolver(authority, time.Minute, nil)
	require.NoError(t, err)
	bearer := NewBearerTokenService(BearerDeps{ServiceName: "orders", S2S: validS2S(), Authority: newAuthority(t)})

	d, err := NewDispatcher(resolver, bearer, nil, WithNetworkTransport(transport.NewHTTPTransport(time.Second, nil)))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := d.Call(context.Background(), billingCall())
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, `echo:{"amount":5}`, res.BodyText)
	}
	claims := claimsOf(t, authHeader[len("Bearer "):])
	assert.Equal(t, "orders", claims["iss"])
	assert.Equal(t, "billing", claims["aud"])
	authority.AssertExpectations(t)
}
