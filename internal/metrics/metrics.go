// ============================================================================
// Scheduler Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集排程器事件並以 Prometheus 格式暴露
//
// 指標分類:
//
//   1. 事件計數器 (Counter) - 由 scheduler.Observer 回呼累加：
//      - pispbe_jobs_dispatched_total{group}: 送進硬體的工作數
//      - pispbe_jobs_completed_total{group}: 完成的工作數
//      - pispbe_jobs_failed_total{group}: 派送失敗或被拆除的工作數
//      - pispbe_jobs_degenerate_total{group}: 以 0 個 tile 執行的壞工作
//      - pispbe_buffers_cancelled_total{group,node}: 停止串流時取消的緩衝區
//      - pispbe_counter_resyncs_total: 影子計數器被強制同步的次數
//      - pispbe_interrupts_total{kind}: handled / spurious 中斷
//
//   2. 延遲 (Histogram)：
//      - pispbe_job_latency_seconds: 從組裝到完成的時間
//
//   3. 狀態 (Gauge) - 抓取時從 Status() 快照計算：
//      - pispbe_busy: 是否有工作等待硬體開始
//      - pispbe_jobs_in_flight: 硬體兩個 slot 中的工作數
//      - pispbe_ready_buffers{group,node}: 就緒佇列深度
//
// Prometheus 查詢示例:
//
//   # 每秒處理幀數
//   rate(pispbe_jobs_completed_total[1m])
//
//   # 95 分位延遲
//   histogram_quantile(0.95, rate(pispbe_job_latency_seconds_bucket[5m]))
//
// ============================================================================

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/isp-scheduler/internal/scheduler"
	"github.com/ChuLiYu/isp-scheduler/pkg/types"
)

const namespace = "pispbe"

// StatusSource provides the snapshot the gauges are computed from.
type StatusSource interface {
	Status() scheduler.Status
}

// Collector Prometheus 指標收集器，實作 scheduler.Observer
type Collector struct {
	// 工作相關指標
	jobsDispatched *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	jobsFailed     *prometheus.CounterVec
	jobsDegenerate *prometheus.CounterVec
	cancelled      *prometheus.CounterVec

	// 硬體相關指標
	resyncs    prometheus.Counter
	interrupts *prometheus.CounterVec

	// 效能指標
	jobLatency prometheus.Histogram
}

var _ scheduler.Observer = (*Collector)(nil)

// NewCollector 創建新的指標收集器並註冊到 reg
//
// reg 為 nil 時使用 prometheus.DefaultRegisterer。src 為 nil 時不註冊
// 狀態 gauge。
func NewCollector(reg prometheus.Registerer, src StatusSource) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		jobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Total number of jobs written to the hardware",
		}, []string{"group"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs completed by the hardware",
		}, []string{"group"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs whose buffers were returned with an error",
		}, []string{"group"}),
		jobsDegenerate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_degenerate_total",
			Help:      "Total number of bad jobs run with zero tiles",
		}, []string{"group"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_cancelled_total",
			Help:      "Total number of ready buffers cancelled by stream stop or teardown",
		}, []string{"group", "node"}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_resyncs_total",
			Help:      "Total number of times the shadow counters were forced to the hardware values",
		}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of interrupts by kind",
		}, []string{"kind"}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_latency_seconds",
			Help:      "Time from job admission to completion in seconds",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.jobsDispatched,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsDegenerate,
		c.cancelled,
		c.resyncs,
		c.interrupts,
		c.jobLatency,
	)
	if src != nil {
		reg.MustRegister(newStatusCollector(src))
	}
	return c
}

// RegisterStatus 註冊狀態 gauge
//
// 排程器本身以 Collector 作為 Observer 建立，因此狀態來源通常在
// NewCollector(reg, nil) 之後才存在。
func RegisterStatus(reg prometheus.Registerer, src StatusSource) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return reg.Register(newStatusCollector(src))
}

func group(g int) string { return strconv.Itoa(g) }

// JobDispatched 記錄工作送進硬體
func (c *Collector) JobDispatched(g int, _ uint32) {
	c.jobsDispatched.WithLabelValues(group(g)).Inc()
}

// JobCompleted 記錄工作完成
func (c *Collector) JobCompleted(g int, latency time.Duration) {
	c.jobsCompleted.WithLabelValues(group(g)).Inc()
	c.jobLatency.Observe(latency.Seconds())
}

// JobFailed 記錄工作失敗
func (c *Collector) JobFailed(g int, _ error) {
	c.jobsFailed.WithLabelValues(group(g)).Inc()
}

// DegenerateJob 記錄以 0 tile 執行的壞工作
func (c *Collector) DegenerateJob(g int) {
	c.jobsDegenerate.WithLabelValues(group(g)).Inc()
}

// BuffersCancelled 記錄被取消的就緒緩衝區
func (c *Collector) BuffersCancelled(g int, node types.NodeID, n int) {
	c.cancelled.WithLabelValues(group(g), node.String()).Add(float64(n))
}

// CountersResynced 記錄計數器重新同步
func (c *Collector) CountersResynced() {
	c.resyncs.Inc()
}

// Interrupt 記錄一次中斷
func (c *Collector) Interrupt(spurious bool) {
	kind := "handled"
	if spurious {
		kind = "spurious"
	}
	c.interrupts.WithLabelValues(kind).Inc()
}

// statusCollector computes gauges from a fresh snapshot on every scrape.
type statusCollector struct {
	src      StatusSource
	busy     *prometheus.Desc
	inFlight *prometheus.Desc
	ready    *prometheus.Desc
	sequence *prometheus.Desc
}

func newStatusCollector(src StatusSource) *statusCollector {
	return &statusCollector{
		src: src,
		busy: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "busy"),
			"1 while an admitted job has not yet been seen starting", nil, nil),
		inFlight: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "jobs_in_flight"),
			"Jobs in the hardware's running and queued slots", nil, nil),
		ready: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "ready_buffers"),
			"Buffers waiting in a node's ready queue", []string{"group", "node"}, nil),
		sequence: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "group_sequence"),
			"Sequence number the next completed job of the group gets", []string{"group"}, nil),
	}
}

func (s *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.busy
	ch <- s.inFlight
	ch <- s.ready
	ch <- s.sequence
}

func (s *statusCollector) Collect(ch chan<- prometheus.Metric) {
	st := s.src.Status()

	busy := 0.0
	if st.Busy {
		busy = 1
	}
	ch <- prometheus.MustNewConstMetric(s.busy, prometheus.GaugeValue, busy)
	ch <- prometheus.MustNewConstMetric(s.inFlight, prometheus.GaugeValue, float64(st.InFlight()))

	for _, g := range st.Groups {
		ch <- prometheus.MustNewConstMetric(s.sequence, prometheus.GaugeValue, float64(g.Sequence), group(g.ID))
		for _, n := range types.AllNodes {
			ch <- prometheus.MustNewConstMetric(s.ready, prometheus.GaugeValue,
				float64(g.Ready[n]), group(g.ID), n.String())
		}
	}
}
