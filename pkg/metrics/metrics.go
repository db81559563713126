// Package metrics は通知サービスのPrometheusメトリクスを提供する。
//
// すべてのメソッドはnilレシーバでも安全に呼び出せる。
// メトリクスを使わないテストではnilを渡せばよい。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics は通知サービスが公開するコレクタの集合。
type Metrics struct {
	registry *prometheus.Registry

	gateDecisions    *prometheus.CounterVec
	digestEnqueued   *prometheus.CounterVec
	digestFlushed    *prometheus.CounterVec
	dispatchResults  *prometheus.CounterVec
	bulkProcessed    *prometheus.CounterVec
	retentionDeleted prometheus.Counter
}

// New は独立したレジストリにコレクタを登録したMetricsを生成する。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notice",
			Name:      "gate_decisions_total",
			Help:      "チャネル別の配信判定結果の件数。",
		}, []string{"channel", "outcome"}),
		digestEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notice",
			Name:      "digest_enqueued_total",
			Help:      "ダイジェストに積まれたエントリ数。",
		}, []string{"channel"}),
		digestFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notice",
			Name:      "digest_flushed_total",
			Help:      "フラッシュされたダイジェストペイロード数。",
		}, []string{"channel"}),
		dispatchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notice",
			Name:      "dispatch_results_total",
			Help:      "トランスポートへの送信結果の件数。",
		}, []string{"kind", "result"}),
		bulkProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notice",
			Name:      "bulk_ids_total",
			Help:      "一括操作で処理されたID数。",
		}, []string{"operation", "result"}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notice",
			Name:      "retention_deleted_total",
			Help:      "保持期間切れで削除された通知数。",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.gateDecisions,
		m.digestEnqueued,
		m.digestFlushed,
		m.dispatchResults,
		m.bulkProcessed,
		m.retentionDeleted,
	)
	return m
}

// Handler は/metricsエンドポイント用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry はテストからの参照用にレジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// GateDecision は配信判定の結果を記録する。
func (m *Metrics) GateDecision(channel, outcome string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(channel, outcome).Inc()
}

// DigestEnqueued はダイジェストへのエントリ追加を記録する。
func (m *Metrics) DigestEnqueued(channel string) {
	if m == nil {
		return
	}
	m.digestEnqueued.WithLabelValues(channel).Inc()
}

// DigestFlushed はダイジェストペイロードの生成を記録する。
func (m *Metrics) DigestFlushed(channel string) {
	if m == nil {
		return
	}
	m.digestFlushed.WithLabelValues(channel).Inc()
}

// DispatchResult はトランスポート送信の結果を記録する。kindはdeliveryまたはdigest。
func (m *Metrics) DispatchResult(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dispatchResults.WithLabelValues(kind, result).Inc()
}

// DispatchDropped はキュー溢れで破棄された送信を記録する。
func (m *Metrics) DispatchDropped(kind string) {
	if m == nil {
		return
	}
	m.dispatchResults.WithLabelValues(kind, "dropped").Inc()
}

// BulkProcessed は一括操作の成功件数と失敗件数を記録する。
func (m *Metrics) BulkProcessed(operation string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.bulkProcessed.WithLabelValues(operation, "succeeded").Add(float64(succeeded))
	m.bulkProcessed.WithLabelValues(operation, "failed").Add(float64(failed))
}

// RetentionDeleted は保持期間切れによる削除件数を記録する。
func (m *Metrics) RetentionDeleted(n int) {
	if m == nil {
		return
	}
	m.retentionDeleted.Add(float64(n))
}
