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
// ハンドラー、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthOutcome(outcome string)
	RecordToggle(kind string)
	RecordReplace()
	RecordStreamConnected()
	RecordStreamDisconnected()
	RecordDeliverySuccess()
	RecordDeliveryFailure(reason string)
	RecordDeliveryLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authOutcome     *prometheus.CounterVec
	toggles         *prometheus.CounterVec
	replaces        prometheus.Counter
	streamClients   prometheus.Gauge
	deliverySuccess prometheus.Counter
	deliveryFail    *prometheus.CounterVec
	deliveryLatency prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paises_auth_attempts_total",
			Help: "認証試行の結果別合計数",
		}, []string{"outcome"}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paises_visited_toggles_total",
			Help: "訪問国トグルの種別（added/removed）別合計数",
		}, []string{"kind"}),
		replaces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paises_visited_replaces_total",
			Help: "訪問国セット全置換の合計数",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paises_stream_clients",
			Help: "接続中のSSEクライアント数",
		}),
		deliverySuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paises_webhook_delivery_success_total",
			Help: "Webhook配信成功の合計数",
		}),
		deliveryFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paises_webhook_delivery_fail_total",
			Help: "Webhook配信失敗の理由別合計数",
		}, []string{"reason"}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paises_webhook_delivery_latency_seconds",
			Help:    "Webhook配信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paises_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.authOutcome,
		c.toggles,
		c.replaces,
		c.streamClients,
		c.deliverySuccess,
		c.deliveryFail,
		c.deliveryLatency,
		c.httpStatus,
	)

	return c
}

// RecordAuthOutcome は認証試行の結果（success またはエラーコード）を記録する。
func (c *Collector) RecordAuthOutcome(outcome string) {
	c.authOutcome.WithLabelValues(outcome).Inc()
}

// RecordToggle は訪問国トグルを記録する。kindは added または removed。
func (c *Collector) RecordToggle(kind string) {
	c.toggles.WithLabelValues(kind).Inc()
}

// RecordReplace は訪問国セットの全置換を記録する。
func (c *Collector) RecordReplace() {
	c.replaces.Inc()
}

// RecordStreamConnected はSSEクライアントの接続を記録する。
func (c *Collector) RecordStreamConnected() {
	c.streamClients.Inc()
}

// RecordStreamDisconnected はSSEクライアントの切断を記録する。
func (c *Collector) RecordStreamDisconnected() {
	c.streamClients.Dec()
}

// RecordDeliverySuccess はWebhook配信成功を記録する。
func (c *Collector) RecordDeliverySuccess() {
	c.deliverySuccess.Inc()
}

// RecordDeliveryFailure はWebhook配信失敗を理由付きで記録する。
func (c *Collector) RecordDeliveryFailure(reason string) {
	c.deliveryFail.WithLabelValues(reason).Inc()
}

// RecordDeliveryLatency はWebhook配信のレイテンシを記録する。
func (c *Collector) RecordDeliveryLatency(duration time.Duration) {
	c.deliveryLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// noopCollector は何も記録しないMetricsCollector実装。
type noopCollector struct{}

func (noopCollector) RecordAuthOutcome(string)            {}
func (noopCollector) RecordToggle(string)                 {}
func (noopCollector) RecordReplace()                      {}
func (noopCollector) RecordStreamConnected()              {}
func (noopCollector) RecordStreamDisconnected()           {}
func (noopCollector) RecordDeliverySuccess()              {}
func (noopCollector) RecordDeliveryFailure(string)        {}
func (noopCollector) RecordDeliveryLatency(time.Duration) {}
func (noopCollector) RecordHTTPStatus(int)                {}

// Noop は何も記録しないMetricsCollector。メトリクス収集が不要な構成で使う。
var Noop MetricsCollector = noopCollector{}

var _ MetricsCollector = (*Collector)(nil)
