// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器 - 抓取时读取 DualQ 快照
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dualq"

// QueueSnapshot DualQ 与分类器的瞬时状态
type QueueSnapshot struct {
	Mode       string `json:"mode"`
	QueueLimit uint32 `json:"queue_limit"`

	ClassicPackets uint64 `json:"classic_packets"`
	L4SPackets     uint64 `json:"l4s_packets"`
	ClassicBytes   uint64 `json:"classic_bytes"`
	L4SBytes       uint64 `json:"l4s_bytes"`

	AvgClassicDelaySeconds float64 `json:"avg_classic_delay_seconds"`
	ClassicDropProb        float64 `json:"classic_drop_prob"`
	L4SDropProb            float64 `json:"l4s_drop_prob"`

	ForcedDrop          uint64 `json:"forced_drop"`
	UnforcedClassicDrop uint64 `json:"unforced_classic_drop"`
	UnforcedClassicMark uint64 `json:"unforced_classic_mark"`
	UnforcedL4SMark     uint64 `json:"unforced_l4s_mark"`

	ClassifiedL4S     uint64 `json:"classified_l4s"`
	ClassifiedClassic uint64 `json:"classified_classic"`
	CEKeptClassic     uint64 `json:"ce_kept_classic"`
}

// QueueStatsProvider 快照提供者
type QueueStatsProvider interface {
	Snapshot() QueueSnapshot
}

// DualQCollector DualQ 指标收集器
type DualQCollector struct {
	statsProvider QueueStatsProvider

	// 描述符
	queuePacketsDesc *prometheus.Desc
	queueBytesDesc   *prometheus.Desc
	queueLimitDesc   *prometheus.Desc
	avgDelayDesc     *prometheus.Desc
	dropProbDesc     *prometheus.Desc

	// AQM 事件
	forcedDropDesc    *prometheus.Desc
	unforcedDropDesc  *prometheus.Desc
	unforcedMarkDesc  *prometheus.Desc
	classifiedDesc    *prometheus.Desc
	ceKeptClassicDesc *prometheus.Desc
}

// NewDualQCollector 创建 DualQ 收集器
func NewDualQCollector(provider QueueStatsProvider) *DualQCollector {
	subsystem := "queue"

	return &DualQCollector{
		statsProvider: provider,

		queuePacketsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "packets"),
			"Packets resident in each sub-queue",
			[]string{"class"}, nil,
		),
		queueBytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "bytes"),
			"Bytes resident in each sub-queue",
			[]string{"class"}, nil,
		),
		queueLimitDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "limit"),
			"Shared queue limit in configured units",
			[]string{"mode"}, nil,
		),
		avgDelayDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "classic_avg_delay_seconds"),
			"EWMA of Classic queuing delay",
			nil, nil,
		),
		dropProbDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "probability_metric"),
			"Most recent drop/mark probability metric",
			[]string{"class"}, nil,
		),

		forcedDropDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "aqm", "forced_drops_total"),
			"Packets dropped because the shared limit was reached",
			nil, nil,
		),
		unforcedDropDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "aqm", "unforced_drops_total"),
			"Packets dropped by the AQM",
			[]string{"class"}, nil,
		),
		unforcedMarkDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "aqm", "unforced_marks_total"),
			"Packets marked CE by the AQM",
			[]string{"class"}, nil,
		),
		classifiedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "classifier", "packets_total"),
			"Packets classified into each sub-queue",
			[]string{"class"}, nil,
		),
		ceKeptClassicDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "classifier", "ce_kept_classic_total"),
			"CE packets of Classic ECN flows kept in the Classic queue",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *DualQCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePacketsDesc
	ch <- c.queueBytesDesc
	ch <- c.queueLimitDesc
	ch <- c.avgDelayDesc
	ch <- c.dropProbDesc
	ch <- c.forcedDropDesc
	ch <- c.unforcedDropDesc
	ch <- c.unforcedMarkDesc
	ch <- c.classifiedDesc
	ch <- c.ceKeptClassicDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *DualQCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statsProvider.Snapshot()

	// 占用
	ch <- prometheus.MustNewConstMetric(c.queuePacketsDesc, prometheus.GaugeValue,
		float64(s.ClassicPackets), "classic")
	ch <- prometheus.MustNewConstMetric(c.queuePacketsDesc, prometheus.GaugeValue,
		float64(s.L4SPackets), "l4s")
	ch <- prometheus.MustNewConstMetric(c.queueBytesDesc, prometheus.GaugeValue,
		float64(s.ClassicBytes), "classic")
	ch <- prometheus.MustNewConstMetric(c.queueBytesDesc, prometheus.GaugeValue,
		float64(s.L4SBytes), "l4s")
	ch <- prometheus.MustNewConstMetric(c.queueLimitDesc, prometheus.GaugeValue,
		float64(s.QueueLimit), s.Mode)

	// 概率
	ch <- prometheus.MustNewConstMetric(c.avgDelayDesc, prometheus.GaugeValue,
		s.AvgClassicDelaySeconds)
	ch <- prometheus.MustNewConstMetric(c.dropProbDesc, prometheus.GaugeValue,
		s.ClassicDropProb, "classic")
	ch <- prometheus.MustNewConstMetric(c.dropProbDesc, prometheus.GaugeValue,
		s.L4SDropProb, "l4s")

	// AQM 事件
	ch <- prometheus.MustNewConstMetric(c.forcedDropDesc, prometheus.CounterValue,
		float64(s.ForcedDrop))
	ch <- prometheus.MustNewConstMetric(c.unforcedDropDesc, prometheus.CounterValue,
		float64(s.UnforcedClassicDrop), "classic")
	ch <- prometheus.MustNewConstMetric(c.unforcedMarkDesc, prometheus.CounterValue,
		float64(s.UnforcedClassicMark), "classic")
	ch <- prometheus.MustNewConstMetric(c.unforcedMarkDesc, prometheus.CounterValue,
		float64(s.UnforcedL4SMark), "l4s")

	// 分类
	ch <- prometheus.MustNewConstMetric(c.classifiedDesc, prometheus.CounterValue,
		float64(s.ClassifiedClassic), "classic")
	ch <- prometheus.MustNewConstMetric(c.classifiedDesc, prometheus.CounterValue,
		float64(s.ClassifiedL4S), "l4s")
	ch <- prometheus.MustNewConstMetric(c.ceKeptClassicDesc, prometheus.CounterValue,
		float64(s.CEKeptClassic))
}
