// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// オーケストレーターおよびフェッチャーから利用する。
type MetricsCollector interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordRequestResult(result string)
	RecordOriginStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordRenderLatency(duration time.Duration)
}

// リクエスト結果ラベル。
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultStale    = "stale"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheHit      prometheus.Counter
	cacheMiss     prometheus.Counter
	requests      *prometheus.CounterVec
	originStatus  *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	renderLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_cache_hit_total",
			Help: "エッジキャッシュヒットの合計数",
		}),
		cacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_cache_miss_total",
			Help: "エッジキャッシュミスの合計数",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_page_requests_total",
			Help: "終端結果別のページリクエスト数",
		}, []string{"result"}),
		originStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_origin_status_total",
			Help: "オリジンAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edge_origin_fetch_seconds",
			Help:    "オリジンフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		renderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edge_render_seconds",
			Help:    "HTMLレンダリングのレイテンシ（秒）",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
	}

	reg.MustRegister(
		c.cacheHit,
		c.cacheMiss,
		c.requests,
		c.originStatus,
		c.fetchLatency,
		c.renderLatency,
	)

	return c
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit() {
	c.cacheHit.Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss() {
	c.cacheMiss.Inc()
}

// RecordRequestResult はリクエストの終端結果を記録する。
func (c *Collector) RecordRequestResult(result string) {
	c.requests.WithLabelValues(result).Inc()
}

// RecordOriginStatus はオリジンのHTTPステータスコードを記録する。
func (c *Collector) RecordOriginStatus(statusCode int) {
	c.originStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はオリジンフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordRenderLatency はレンダリングのレイテンシを記録する。
func (c *Collector) RecordRenderLatency(duration time.Duration) {
	c.renderLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
