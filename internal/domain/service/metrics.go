// Package service holds the domain services of the S2S trust layer: token minting,
// token caching, target resolution and token verification.
package service

import (
	"time"
)

// Cache outcome labels shared by every TTL cache.
const (
	CacheOutcomeHit   = "hit"
	CacheOutcomeMiss  = "miss"
	CacheOutcomeJoin  = "join"
	CacheOutcomeError = "error"
)

// Metrics defines the interface for collecting trust-layer metrics.
// This abstraction allows the domain layer to remain independent of the specific monitoring implementation (e.g., Prometheus).
// Metrics 定义了收集信任层指标的接口。
// 这种抽象使领域层能够独立于具体的监控实现（例如 Prometheus）。
type Metrics interface {
	// RecordCacheAccess records a lookup outcome for the named cache ("token", "target").
	// RecordCacheAccess 记录指定缓存的查询结果。
	RecordCacheAccess(cache, outcome string)

	// RecordSign records the latency and outcome of a remote sign RPC.
	// RecordSign 记录远程签名调用的延迟和结果。
	RecordSign(kid string, duration time.Duration, err error)

	// RecordResolve records the latency and outcome of a discovery fetch.
	// RecordResolve 记录服务发现请求的延迟和结果。
	RecordResolve(env string, duration time.Duration, err error)

	// RecordDispatch records an outbound S2S call.
	// RecordDispatch 记录一次出站服务间调用。
	RecordDispatch(slug string, status int, duration time.Duration, errorCode string)
}

type noopMetrics struct{}

// NewNoopMetrics returns a Metrics that discards everything.
func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordCacheAccess(string, string) {}
func (noopMetrics) RecordSign(string, time.Duration, error) {}
func (noopMetrics) RecordResolve(string, time.Duration, error) {}
func (noopMetrics) RecordDispatch(string, int, time.Duration, string) {}
