package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/errors"
)

// Metrics manages the Prometheus metrics and implements service.Metrics.
type Metrics struct {
	CacheAccess      *prometheus.CounterVec
	SignLatency      *prometheus.HistogramVec
	ResolveLatency   *prometheus.HistogramVec
	DispatchRequests *prometheus.CounterVec
	DispatchLatency  *prometheus.HistogramVec
	KeyEvents        *prometheus.CounterVec
	AdminRequests    *prometheus.CounterVec
	AdminLatency     *prometheus.HistogramVec
}

var _ service.Metrics = (*Metrics)(nil)

// NewMetrics creates the metrics and registers them with reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		CacheAccess: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s2s_cache_access_total",
				Help: "Lookups per cache and outcome (hit, miss, join, error).",
			},
			[]string{"cache", "outcome"},
		),
		SignLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s2s_sign_duration_seconds",
				Help:    "Latency of remote asymmetric sign RPCs.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kid", "result"},
		),
		ResolveLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s2s_resolve_duration_seconds",
				Help:    "Latency of discovery lookups.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"env", "result"},
		),
		DispatchRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s2s_dispatch_requests_total",
				Help: "Outbound S2S calls by target, status and error kind.",
			},
			[]string{"slug", "status", "error_code"},
		),
		DispatchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s2s_dispatch_duration_seconds",
				Help:    "Latency of outbound S2S calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"slug"},
		),
		KeyEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s2s_key_events_total",
				Help: "Key lifecycle events consumed, by type and result.",
			},
			[]string{"type", "result"},
		),
		AdminRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s2s_admin_requests_total",
				Help: "Admin API requests.",
			},
			[]string{"path", "method", "status"},
		),
		AdminLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s2s_admin_request_duration_seconds",
				Help:    "Admin API request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}
}

// RecordCacheAccess implements service.Metrics.
func (m *Metrics) RecordCacheAccess(cache, outcome string) {
	m.CacheAccess.WithLabelValues(cache, outcome).Inc()
}

// RecordSign implements service.Metrics.
func (m *Metrics) RecordSign(kid string, duration time.Duration, err error) {
	m.SignLatency.WithLabelValues(kid, result(err)).Observe(duration.Seconds())
}

// RecordResolve implements service.Metrics.
func (m *Metrics) RecordResolve(env string, duration time.Duration, err error) {
	m.ResolveLatency.WithLabelValues(env, result(err)).Observe(duration.Seconds())
}

// RecordDispatch implements service.Metrics. status 0 means no response.
func (m *Metrics) RecordDispatch(slug string, status int, duration time.Duration, errorCode string) {
	m.DispatchRequests.WithLabelValues(slug, strconv.Itoa(status), errorCode).Inc()
	if duration > 0 {
		m.DispatchLatency.WithLabelValues(slug).Observe(duration.Seconds())
	}
}

// RecordKeyEvent counts a consumed key lifecycle event.
func (m *Metrics) RecordKeyEvent(eventType string, err error) {
	m.KeyEvents.WithLabelValues(eventType, result(err)).Inc()
}

// ObserveAdminRequest records one admin API request.
func (m *Metrics) ObserveAdminRequest(path, method string, status int, duration time.Duration) {
	m.AdminRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.AdminLatency.WithLabelValues(path, method).Observe(duration.Seconds())
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errors.KindOf(err); code != "" {
		return string(code)
	}
	return "error"
}
