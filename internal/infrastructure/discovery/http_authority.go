package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/logger"
)

const maxListingBytes = 4 << 20

// HTTPAuthority reads the full service listing from a configuration endpoint
// and picks the requested entry out of it.
type HTTPAuthority struct {
	url        string
	resultPath string
	client     *http.Client
	logger     logger.Logger
}

// HTTPAuthorityOption customizes an HTTPAuthority.
type HTTPAuthorityOption func(*HTTPAuthority)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) HTTPAuthorityOption {
	return func(a *HTTPAuthority) { a.client = c }
}

// WithResultPath sets the gjson path of the service array in the response.
func WithResultPath(path string) HTTPAuthorityOption {
	return func(a *HTTPAuthority) { a.resultPath = path }
}

// NewHTTPAuthority creates an authority reading url.
func NewHTTPAuthority(url string, timeout time.Duration, log logger.Logger, opts ...HTTPAuthorityOption) *HTTPAuthority {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &HTTPAuthority{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log.WithComponent("HTTPAuthority"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LookupService implements service.DiscoveryAuthority.
func (a *HTTPAuthority) LookupService(ctx context.Context, env, slug, version string) (*models.TargetDescriptor, error) {
	targets, err := a.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	return service.FindTarget(targets, env, slug, version)
}

// ListServices implements service.ServiceLister.
func (a *HTTPAuthority) ListServices(ctx context.Context) ([]models.TargetDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch service listing: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return nil, fmt.Errorf("read service listing: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("service listing returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("service listing is not valid JSON")
	}

	result := gjson.ParseBytes(body)
	if a.resultPath != "" {
		result = result.Get(a.resultPath)
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("service listing has no array at %q", a.resultPath)
	}

	var out []models.TargetDescriptor
	for _, item := range result.Array() {
		var t models.TargetDescriptor
		if err := json.Unmarshal([]byte(item.Raw), &t); err != nil {
			a.logger.Warn(ctx, "skipping malformed listing entry", logger.String("error", err.Error()))
			continue
		}
		out = append(out, t)
	}
	a.logger.Debug(ctx, "service listing fetched", logger.Int("services", len(out)))
	return out, nil
}

var (
	_ service.DiscoveryAuthority = (*HTTPAuthority)(nil)
	_ service.ServiceLister      = (*HTTPAuthority)(nil)
)
