package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/errors"
)

func TestHTTPTransport_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/charges", r.URL.Path)
		assert.Equal(t, "Bearer a.b.c", r.Header.Get("Authorization"))
		assert.Equal(t, `{"amount":5}`, string(body))
		w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ch_1"}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(time.Second, nil)
	resp, err := tr.Execute(context.Background(), &service.OutboundRequest{
		Method: http.MethodPost,
		URL:    srv.URL + "/v2/charges",
		Headers: http.Header{
			"Authorization": []string{"Bearer a.b.c"},
			"X-Request-Id":  []string{"req-1"},
		},
		Body: []byte(`{"amount":5}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "req-1", resp.Headers.Get("X-Request-Id"))
	assert.Equal(t, `{"id":"ch_1"}`, string(resp.Body))
}

func TestHTTPTransport_ServerErrorsAreResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := NewHTTPTransport(time.Second, nil).Execute(context.Background(),
		&service.OutboundRequest{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
}

func TestHTTPTransport_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://elsewhere.invalid/", http.StatusFound)
	}))
	defer srv.Close()

	resp, err := NewHTTPTransport(time.Second, nil).Execute(context.Background(),
		&service.OutboundRequest{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
}

func TestHTTPTransport_Failures(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	_, err := NewHTTPTransport(20*time.Millisecond, nil).Execute(context.Background(),
		&service.OutboundRequest{Method: http.MethodGet, URL: slow.URL})
	assert.True(t, errors.Is(err, errors.ErrTransport))
	assert.Equal(t, http.StatusBadGateway, errors.HTTPStatusOf(err))

	_, err = NewHTTPTransport(time.Second, nil).Execute(context.Background(),
		&service.OutboundRequest{Method: "BAD METHOD", URL: "http://x"})
	assert.True(t, errors.Is(err, errors.ErrTransport))
}

func TestFunc(t *testing.T) {
	var tr service.Transport = Func(func(ctx context.Context, req *service.OutboundRequest) (*service.OutboundResponse, error) {
		return &service.OutboundResponse{Status: http.StatusTeapot}, nil
	})
	resp, err := tr.Execute(context.Background(), &service.OutboundRequest{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.Status)
}

func TestHTTPTransport_OversizedBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := NewHTTPTransport(time.Second, nil, WithMaxResponseBytes(10)).Execute(context.Background(),
		&service.OutboundRequest{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransport))

	resp, err := NewHTTPTransport(time.Second, nil, WithMaxResponseBytes(100)).Execute(context.Background(),
		&service.OutboundRequest{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 100)
}
