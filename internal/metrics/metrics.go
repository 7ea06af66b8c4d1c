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
// ワーカーやサービス層、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordPushSent()
	RecordPushFailure(reason string)
	RecordReminderSweep(duration time.Duration, notifiedPartnerships int)
	RecordInvitation(outcome string)
	RecordHarmonyReset()
	RecordHTTPStatus(statusCode int)
}

// プッシュ送信失敗の理由ラベル
const (
	PushFailureGone  = "gone"
	PushFailureError = "error"
)

// 招待の結果ラベル
const (
	InvitationCreated  = "created"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	pushSent      prometheus.Counter
	pushFail      *prometheus.CounterVec
	sweepLatency  prometheus.Histogram
	sweepNotified prometheus.Counter
	invitations   *prometheus.CounterVec
	harmonyResets prometheus.Counter
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pushSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duoflow_push_sent_total",
			Help: "Web Push送信成功の合計数",
		}),
		pushFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duoflow_push_fail_total",
			Help: "Web Push送信失敗の合計数",
		}, []string{"reason"}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "duoflow_reminder_sweep_seconds",
			Help:    "リマインダースイープ1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sweepNotified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duoflow_reminder_partnerships_notified_total",
			Help: "リマインダーを送信したパートナーシップの合計数",
		}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duoflow_invitations_total",
			Help: "招待の作成・承諾・辞退の合計数",
		}, []string{"outcome"}),
		harmonyResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duoflow_harmony_resets_total",
			Help: "Harmony Flameリセットの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duoflow_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.pushSent,
		c.pushFail,
		c.sweepLatency,
		c.sweepNotified,
		c.invitations,
		c.harmonyResets,
		c.httpStatus,
	)

	return c
}

// RecordPushSent はプッシュ送信成功を記録する。
func (c *Collector) RecordPushSent() {
	c.pushSent.Inc()
}

// RecordPushFailure はプッシュ送信失敗を記録する。
func (c *Collector) RecordPushFailure(reason string) {
	c.pushFail.WithLabelValues(reason).Inc()
}

// RecordReminderSweep はリマインダースイープの所要時間と通知したパートナーシップ数を記録する。
func (c *Collector) RecordReminderSweep(duration time.Duration, notifiedPartnerships int) {
	c.sweepLatency.Observe(duration.Seconds())
	c.sweepNotified.Add(float64(notifiedPartnerships))
}

// RecordInvitation は招待の状態遷移を記録する。
func (c *Collector) RecordInvitation(outcome string) {
	c.invitations.WithLabelValues(outcome).Inc()
}

// RecordHarmonyReset はHarmony Flameのリセットを記録する。
func (c *Collector) RecordHarmonyReset() {
	c.harmonyResets.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスのメトリクスサーバーで使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordPushSent() {}
func (Nop) RecordPushFailure(string) {}
func (Nop) RecordReminderSweep(time.Duration, int) {}
func (Nop) RecordInvitation(string) {}
func (Nop) RecordHarmonyReset() {}
func (Nop) RecordHTTPStatus(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
