package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor 撮合引擎的Prometheus指标收集器。
// 所有方法对 nil 接收者安全，未配置监控时组件可直接传 nil。
type Monitor struct {
	registry *prometheus.Registry

	// 订单指标
	ordersAdmitted  prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	ordersCancelled prometheus.Counter

	// epoch/block 指标
	blocksCreated     prometheus.Counter
	epochsOpened      prometheus.Counter
	epochsCompleted   prometheus.Counter
	currentEpochIndex prometheus.Gauge

	// 撮合指标
	matchesExecuted  prometheus.Counter
	pairsSkipped     prometheus.Counter
	executedVolume   prometheus.Counter
	matchingProgress prometheus.Gauge

	// 外部账本指标
	ledgerRequests    *prometheus.CounterVec
	ledgerErrors      *prometheus.CounterVec
	ledgerLatency     *prometheus.HistogramVec
	reconcileInserted prometheus.Counter

	// 系统指标
	subscriberPanics prometheus.Counter
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "darkpool",
		Subsystem: "engine",
	}
}

// New 创建新的Monitor实例，使用独立registry
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Monitor{
		registry: reg,

		ordersAdmitted: counter("orders_admitted_total", "进入区块的订单总数"),
		ordersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_rejected_total",
			Help:      "被拒绝的订单数，按原因区分",
		}, []string{"reason"}),
		ordersCancelled: counter("orders_cancelled_total", "撤销的订单总数"),

		blocksCreated:     counter("blocks_created_total", "创建的区块总数"),
		epochsOpened:      counter("epochs_opened_total", "开启的 epoch 总数"),
		epochsCompleted:   counter("epochs_completed_total", "完成撮合的 epoch 总数"),
		currentEpochIndex: gauge("current_epoch_index", "当前活跃 epoch 的序号"),

		matchesExecuted:  counter("matches_executed_total", "成交的买卖对数量"),
		pairsSkipped:     counter("pairs_skipped_total", "价格不兼容而跳过的候选对"),
		executedVolume:   counter("executed_volume_total", "累计成交数量"),
		matchingProgress: gauge("matching_progress_percent", "当前撮合进度（百分比）"),

		ledgerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ledger_requests_total",
			Help:      "外部账本请求总数",
		}, []string{"action"}),
		ledgerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ledger_errors_total",
			Help:      "外部账本错误总数",
		}, []string{"action"}),
		ledgerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ledger_latency_seconds",
			Help:      "外部账本请求延迟（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		reconcileInserted: counter("reconcile_inserted_total", "对账时从账本插入的订单数"),

		subscriberPanics: counter("subscriber_panics_total", "订阅回调 panic 次数"),
	}
}

// 订单相关方法
func (m *Monitor) RecordOrderAdmitted() {
	if m == nil {
		return
	}
	m.ordersAdmitted.Inc()
}

func (m *Monitor) RecordOrderRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

func (m *Monitor) RecordOrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

// epoch/block 相关方法
func (m *Monitor) RecordBlockCreated() {
	if m == nil {
		return
	}
	m.blocksCreated.Inc()
}

func (m *Monitor) RecordEpochOpened(index uint64) {
	if m == nil {
		return
	}
	m.epochsOpened.Inc()
	m.currentEpochIndex.Set(float64(index))
}

func (m *Monitor) RecordEpochCompleted() {
	if m == nil {
		return
	}
	m.epochsCompleted.Inc()
}

// 撮合相关方法
func (m *Monitor) RecordMatch(volume float64) {
	if m == nil {
		return
	}
	m.matchesExecuted.Inc()
	m.executedVolume.Add(volume)
}

func (m *Monitor) RecordPairSkipped() {
	if m == nil {
		return
	}
	m.pairsSkipped.Inc()
}

func (m *Monitor) UpdateMatchingProgress(percent float64) {
	if m == nil {
		return
	}
	m.matchingProgress.Set(percent)
}

// 外部账本相关方法
func (m *Monitor) RecordLedgerRequest(action string, seconds float64) {
	if m == nil {
		return
	}
	m.ledgerRequests.WithLabelValues(action).Inc()
	m.ledgerLatency.WithLabelValues(action).Observe(seconds)
}

func (m *Monitor) RecordLedgerError(action string) {
	if m == nil {
		return
	}
	m.ledgerErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordReconcileInserted(n int) {
	if m == nil {
		return
	}
	m.reconcileInserted.Add(float64(n))
}

func (m *Monitor) RecordSubscriberPanic() {
	if m == nil {
		return
	}
	m.subscriberPanics.Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
