// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 转发器实时埋点指标（Counter/Histogram）
// =============================================================================
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ForwarderMetrics 转发器指标集合
type ForwarderMetrics struct {
	// 流量相关
	PacketsReceived *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	BytesSent       *prometheus.CounterVec

	// 延迟相关
	ForwardDelay *prometheus.HistogramVec

	// 丢弃与标记
	Drops     *prometheus.CounterVec
	Marks     prometheus.Counter
	Malformed prometheus.Counter

	// 整形
	PacerWaits prometheus.Counter

	// 错误相关
	Errors *prometheus.CounterVec
}

// NewForwarderMetrics 创建指标集合并注册
func NewForwarderMetrics(registry prometheus.Registerer) *ForwarderMetrics {
	m := &ForwarderMetrics{
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "packets_received_total",
			Help:      "Frames received on ingress",
		}, []string{"class"}),

		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "bytes_received_total",
			Help:      "Bytes received on ingress",
		}, []string{"class"}),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "packets_sent_total",
			Help:      "Frames written upstream",
		}, []string{"class"}),

		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "bytes_sent_total",
			Help:      "Bytes written upstream",
		}, []string{"class"}),

		ForwardDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "forward_delay_seconds",
			Help:      "Time from ingress to egress",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 100us - 3.2s
		}, []string{"class"}),

		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "drops_total",
			Help:      "Frames dropped by reason",
		}, []string{"reason"}),

		Marks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "ce_marks_total",
			Help:      "Frames rewritten to CE",
		}),

		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "malformed_total",
			Help:      "Datagrams that failed to parse",
		}),

		PacerWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "pacer_waits_total",
			Help:      "Times egress waited for link tokens",
		}),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "errors_total",
			Help:      "Socket errors by direction",
		}, []string{"direction"}),
	}

	registry.MustRegister(
		m.PacketsReceived,
		m.BytesReceived,
		m.PacketsSent,
		m.BytesSent,
		m.ForwardDelay,
		m.Drops,
		m.Marks,
		m.Malformed,
		m.PacerWaits,
		m.Errors,
	)

	return m
}

// RecordReceived 记录入口帧
func (m *ForwarderMetrics) RecordReceived(class string, bytes int) {
	m.PacketsReceived.WithLabelValues(class).Inc()
	m.BytesReceived.WithLabelValues(class).Add(float64(bytes))
}

// RecordSent 记录出口帧
func (m *ForwarderMetrics) RecordSent(class string, bytes int, delay time.Duration) {
	m.PacketsSent.WithLabelValues(class).Inc()
	m.BytesSent.WithLabelValues(class).Add(float64(bytes))
	m.ForwardDelay.WithLabelValues(class).Observe(delay.Seconds())
}

// RecordDrop 记录丢弃
func (m *ForwarderMetrics) RecordDrop(reason string) {
	m.Drops.WithLabelValues(reason).Inc()
}

// RecordMark 记录 CE 改写
func (m *ForwarderMetrics) RecordMark() {
	m.Marks.Inc()
}

// RecordMalformed 记录解析失败
func (m *ForwarderMetrics) RecordMalformed() {
	m.Malformed.Inc()
}

// RecordPacerWait 记录整形等待
func (m *ForwarderMetrics) RecordPacerWait() {
	m.PacerWaits.Inc()
}

// RecordError 记录套接字错误
func (m *ForwarderMetrics) RecordError(direction string) {
	m.Errors.WithLabelValues(direction).Inc()
}
