package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rauction"

// AuctionMetrics 記錄出價、狀態轉換、排程器和廣播的指標。
// nil 的 *AuctionMetrics 可以安全呼叫所有方法。
type AuctionMetrics struct {
	bids              *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
	broadcastDropped  prometheus.Counter
	broadcastFailures prometheus.Counter
	subscribers       prometheus.Gauge
}

// New 建立指標並註冊到 reg；reg 為 nil 時回傳不記錄任何資料的實例
func New(reg prometheus.Registerer) *AuctionMetrics {
	if reg == nil {
		return &AuctionMetrics{}
	}
	m := &AuctionMetrics{
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_total",
			Help:      "Submitted bids by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auction_transitions_total",
			Help:      "Auction status transitions by target status and trigger.",
		}, []string{"to", "trigger"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_sweep_duration_seconds",
			Help:      "Duration of scheduler deadline sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Events dropped for slow subscribers.",
		}),
		broadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Events that could not be handed to the broadcaster.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_subscribers",
			Help:      "Currently connected SSE subscribers.",
		}),
	}
	reg.MustRegister(m.bids, m.transitions, m.sweepDuration, m.broadcastDropped, m.broadcastFailures, m.subscribers)
	return m
}

// ObserveBid 記錄一筆出價的結果，例如 accepted、conflict 或拒絕原因
func (m *AuctionMetrics) ObserveBid(outcome string) {
	if m == nil || m.bids == nil {
		return
	}
	m.bids.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveTransition 記錄一次狀態轉換
func (m *AuctionMetrics) ObserveTransition(to, trigger string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(to), normalizeLabel(trigger)).Inc()
}

// ObserveSweep 記錄一次排程掃描的耗時
func (m *AuctionMetrics) ObserveSweep(d time.Duration) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

// AddDropped 累加因訂閱者過慢而丟棄的事件數
func (m *AuctionMetrics) AddDropped(n int) {
	if m == nil || m.broadcastDropped == nil || n <= 0 {
		return
	}
	m.broadcastDropped.Add(float64(n))
}

// IncBroadcastFailure 累加發布失敗次數
func (m *AuctionMetrics) IncBroadcastFailure() {
	if m == nil || m.broadcastFailures == nil {
		return
	}
	m.broadcastFailures.Inc()
}

// SubscriberConnected / SubscriberDisconnected 追蹤目前的 SSE 連線數
func (m *AuctionMetrics) SubscriberConnected() {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *AuctionMetrics) SubscriberDisconnected() {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Dec()
}

func normalizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
