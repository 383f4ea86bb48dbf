// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
// 每实例持有独立 Registry，不污染全局默认注册表。
type Collector struct {
	registry *prometheus.Registry

	// HTTP 入口指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 代理/上游指标
	proxyRequestsTotal    *prometheus.CounterVec
	proxyRequestDuration  *prometheus.HistogramVec
	proxyLatencyQuantiles *prometheus.SummaryVec
	proxyRetriesTotal     *prometheus.CounterVec
	tokensTotal           *prometheus.CounterVec

	// 路由指标
	routingDecisionsTotal *prometheus.CounterVec

	// 熔断与限流指标
	breakerTransitionsTotal *prometheus.CounterVec
	rateLimitedTotal        *prometheus.CounterVec

	// 会话亲和缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Tee 指标
	teeQueueSize      prometheus.Gauge
	teeDeliveredTotal *prometheus.CounterVec

	// 数据库指标
	dbQueryDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	// HTTP 入口指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 代理/上游指标
	c.proxyRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of proxied upstream requests",
		},
		[]string{"channel", "model", "status"},
	)

	c.proxyRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_request_duration_seconds",
			Help:      "Upstream request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"channel", "model"},
	)

	// 滑动窗口分位数；直方图桶对长尾延迟太粗
	c.proxyLatencyQuantiles = factory.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       "proxy_request_latency_quantiles_seconds",
			Help:       "Upstream request latency quantiles over a sliding window",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			MaxAge:     5 * time.Minute,
			AgeBuckets: 5,
		},
		[]string{"channel"},
	)

	c.proxyRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_retries_total",
			Help:      "Total number of in-request channel retries",
		},
		[]string{"channel"},
	)

	c.tokensTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total number of tokens by direction",
		},
		[]string{"channel", "model", "type"}, // type: input, completion, cached
	)

	// 路由指标
	c.routingDecisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Total number of routing decisions",
		},
		[]string{"source", "rule"}, // source: rule, balancer, affinity
	)

	// 熔断与限流指标
	c.breakerTransitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"channel", "state"}, // state: open, half_open, closed
	)

	c.rateLimitedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of upstream rate-limit responses",
		},
		[]string{"channel"},
	)

	// 会话亲和缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Tee 指标
	c.teeQueueSize = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tee_queue_size",
			Help:      "Current number of queued tee payloads",
		},
	)

	c.teeDeliveredTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tee_deliveries_total",
			Help:      "Total number of tee delivery outcomes",
		},
		[]string{"destination", "outcome"}, // outcome: delivered, failed
	)

	// 数据库指标
	c.dbQueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry 返回该实例的注册表
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 Prometheus 文本格式的导出端点
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// 🎯 HTTP 入口指标记录
// =============================================================================

// RecordHTTPRequest 记录入口 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔀 代理指标记录
// =============================================================================

// RecordProxyRequest 记录一次上游请求及其 token 用量
func (c *Collector) RecordProxyRequest(channelName, model, status string, duration time.Duration, input, output, cached int64) {
	c.proxyRequestsTotal.WithLabelValues(channelName, model, status).Inc()
	c.proxyRequestDuration.WithLabelValues(channelName, model).Observe(duration.Seconds())
	c.proxyLatencyQuantiles.WithLabelValues(channelName).Observe(duration.Seconds())
	c.tokensTotal.WithLabelValues(channelName, model, "input").Add(float64(input))
	c.tokensTotal.WithLabelValues(channelName, model, "output").Add(float64(output))
	c.tokensTotal.WithLabelValues(channelName, model, "cached").Add(float64(cached))
}

// RecordRetry 记录一次渠道内重试
func (c *Collector) RecordRetry(channelName string) {
	c.proxyRetriesTotal.WithLabelValues(channelName).Inc()
}

// RecordRoutingDecision 记录路由决策来源
func (c *Collector) RecordRoutingDecision(source, rule string) {
	c.routingDecisionsTotal.WithLabelValues(source, rule).Inc()
}

// =============================================================================
// ⚡ 熔断与限流指标记录
// =============================================================================

// RecordBreakerTransition 记录熔断状态迁移
func (c *Collector) RecordBreakerTransition(channelName, state string) {
	c.breakerTransitionsTotal.WithLabelValues(channelName, state).Inc()
}

// RecordRateLimited 记录上游限流
func (c *Collector) RecordRateLimited(channelName string) {
	c.rateLimitedTotal.WithLabelValues(channelName).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 📤 Tee 指标记录
// =============================================================================

// SetTeeQueueSize 更新 tee 队列长度
func (c *Collector) SetTeeQueueSize(size int) {
	c.teeQueueSize.Set(float64(size))
}

// RecordTeeDelivery 记录 tee 投递结果
func (c *Collector) RecordTeeDelivery(destination string, delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	c.teeDeliveredTotal.WithLabelValues(destination, outcome).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
