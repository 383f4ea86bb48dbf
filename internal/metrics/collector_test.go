package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector("routex", zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.proxyRequestsTotal)
	assert.NotNil(t, collector.tokensTotal)
	assert.NotNil(t, collector.teeQueueSize)
	assert.NotNil(t, collector.Registry())
}

func TestCollector_IndependentRegistries(t *testing.T) {
	// 同名指标在两个实例上注册不冲突
	a := NewCollector("routex", zap.NewNop())
	b := NewCollector("routex", zap.NewNop())
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector("routex", zap.NewNop())

	collector.RecordHTTPRequest("POST", "/v1/messages", 200, 100*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/v1/messages", 503, 50*time.Millisecond)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Equal(t, 2, count) // 2xx 与 5xx 两条序列

	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/messages", "2xx")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/messages", "5xx")))
}

func TestCollector_RecordProxyRequest(t *testing.T) {
	collector := NewCollector("routex", zap.NewNop())

	collector.RecordProxyRequest("primary", "claude-sonnet-4", "2xx", time.Second, 100, 20, 80)
	collector.RecordProxyRequest("primary", "claude-sonnet-4", "2xx", time.Second, 50, 10, 0)

	assert.Equal(t, float64(150),
		testutil.ToFloat64(collector.tokensTotal.WithLabelValues("primary", "claude-sonnet-4", "input")))
	assert.Equal(t, float64(30),
		testutil.ToFloat64(collector.tokensTotal.WithLabelValues("primary", "claude-sonnet-4", "output")))
	assert.Equal(t, float64(80),
		testutil.ToFloat64(collector.tokensTotal.WithLabelValues("primary", "claude-sonnet-4", "cached")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(collector.proxyRequestsTotal.WithLabelValues("primary", "claude-sonnet-4", "2xx")))
}

func TestCollector_LatencyQuantiles(t *testing.T) {
	collector := NewCollector("routex", zap.NewNop())

	for i := 1; i <= 10; i++ {
		collector.RecordProxyRequest("primary", "claude-sonnet-4", "2xx",
			time.Duration(i)*100*time.Millisecond, 0, 0, 0)
	}

	srv := httptest.NewServer(collector.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	// summary 类型导出 quantile 序列与 _sum/_count
	assert.Contains(t, text, "# TYPE routex_proxy_request_latency_quantiles_seconds summary")
	assert.Contains(t, text, `routex_proxy_request_latency_quantiles_seconds{channel="primary",quantile="0.5"}`)
	assert.Contains(t, text, `routex_proxy_request_latency_quantiles_seconds{channel="primary",quantile="0.9"}`)
	assert.Contains(t, text, `routex_proxy_request_latency_quantiles_seconds{channel="primary",quantile="0.99"}`)
	assert.Contains(t, text, `routex_proxy_request_latency_quantiles_seconds_count{channel="primary"} 10`)
}

func TestCollector_BreakerAndRateLimit(t *testing.T) {
	collector := NewCollector("routex", zap.NewNop())

	collector.RecordBreakerTransition("primary", "open")
	collector.RecordBreakerTransition("primary", "closed")
	collector.RecordRateLimited("primary")

	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.breakerTransitionsTotal.WithLabelValues("primary", "open")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.rateLimitedTotal.WithLabelValues("primary")))
}

func TestCollector_ExportFormat(t *testing.T) {
	collector := NewCollector("routex", zap.NewNop())

	collector.RecordHTTPRequest("POST", "/v1/messages", 200, 100*time.Millisecond)
	collector.RecordProxyRequest("primary", "claude-sonnet-4", "2xx", 2*time.Second, 10, 5, 0)
	collector.SetTeeQueueSize(3)

	srv := httptest.NewServer(collector.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	// HELP/TYPE 头与标签序列
	assert.Contains(t, text, "# HELP routex_http_requests_total")
	assert.Contains(t, text, "# TYPE routex_http_requests_total counter")
	assert.Contains(t, text, `routex_http_requests_total{method="POST",path="/v1/messages",status="2xx"} 1`)

	// 直方图的 _bucket/_sum/_count 与 +Inf
	assert.Contains(t, text, "# TYPE routex_proxy_request_duration_seconds histogram")
	assert.Contains(t, text, `routex_proxy_request_duration_seconds_bucket{channel="primary",model="claude-sonnet-4",le="+Inf"} 1`)
	assert.Contains(t, text, "routex_proxy_request_duration_seconds_sum")
	assert.Contains(t, text, "routex_proxy_request_duration_seconds_count")

	// gauge
	assert.Contains(t, text, "routex_tee_queue_size 3")
}

func TestCollector_ExportEscapesLabelValues(t *testing.T) {
	collector := NewCollector("routex", zap.NewNop())

	// 标签值中的反斜杠、双引号、换行必须转义
	collector.RecordRoutingDecision("rule", "with\"quote and \\slash\nand newline")

	srv := httptest.NewServer(collector.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	require.Contains(t, text, "routex_routing_decisions_total")
	assert.Contains(t, text, `\"quote`)
	assert.Contains(t, text, `\\slash`)
	assert.Contains(t, text, `\nand newline`)
	// 原始换行不得出现在序列行内
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "routex_routing_decisions_total{") {
			assert.Contains(t, line, "} 1")
		}
	}
}
