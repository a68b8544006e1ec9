package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 流量方向
const (
	DirIn  = "in"
	DirOut = "out"
)

// Metrics 节点指标集合
type Metrics struct {
	registry *prometheus.Registry

	// 传输层
	Dials       *prometheus.CounterVec
	Connections prometheus.Gauge
	StreamBytes *prometheus.CounterVec

	// 发现
	DHTRequests     *prometheus.CounterVec
	LookupDuration  *prometheus.HistogramVec
	ProviderRecords prometheus.Gauge

	// 发布订阅
	PubSubMessages *prometheus.CounterVec

	// 内容与记忆
	ContentOps    *prometheus.CounterVec
	MemoryQueries *prometheus.CounterVec
}

// New 在给定 Registry 上注册所有指标
func New(reg *prometheus.Registry, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		Dials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "dials_total",
			Help:      "Outbound dial attempts by result",
		}, []string{"result"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "connections",
			Help:      "Currently open connections",
		}),
		StreamBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "stream_bytes_total",
			Help:      "Bytes carried on streams by direction and protocol",
		}, []string{"direction", "protocol"}),

		DHTRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "requests_total",
			Help:      "DHT requests sent by message type and result",
		}, []string{"type", "result"}),
		LookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "lookup_duration_seconds",
			Help:      "Iterative lookup latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind", "state"}),
		ProviderRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "provider_records",
			Help:      "Provider records held locally",
		}),

		PubSubMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "messages_total",
			Help:      "Pubsub messages by event",
		}, []string{"event"}),

		ContentOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content",
			Name:      "operations_total",
			Help:      "Content store and fetch operations by outcome",
		}, []string{"op"}),
		MemoryQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "queries_total",
			Help:      "Memory queries by scope and completeness",
		}, []string{"scope", "result"}),
	}
}

// NewIsolated 使用独立 Registry 创建指标
func NewIsolated(namespace string) *Metrics {
	return New(prometheus.NewRegistry(), namespace)
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ============================================================================
//                              记录方法（nil 安全）
// ============================================================================

// Dial 记录一次拨号结果
func (m *Metrics) Dial(result string) {
	if m == nil {
		return
	}
	m.Dials.WithLabelValues(result).Inc()
}

// ConnOpened 连接数 +1
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

// ConnClosed 连接数 -1
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

// StreamTraffic 记录流量
func (m *Metrics) StreamTraffic(direction, protocol string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StreamBytes.WithLabelValues(direction, protocol).Add(float64(n))
}

// DHTRequest 记录一次 DHT 请求
func (m *Metrics) DHTRequest(msgType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DHTRequests.WithLabelValues(msgType, result).Inc()
}

// Lookup 记录一次迭代查找
func (m *Metrics) Lookup(kind, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.LookupDuration.WithLabelValues(kind, state).Observe(d.Seconds())
}

// SetProviderRecords 设置本地提供者记录数
func (m *Metrics) SetProviderRecords(n int) {
	if m == nil {
		return
	}
	m.ProviderRecords.Set(float64(n))
}

// PubSub 记录发布订阅事件
func (m *Metrics) PubSub(event string) {
	if m == nil {
		return
	}
	m.PubSubMessages.WithLabelValues(event).Inc()
}

// Content 记录内容操作
func (m *Metrics) Content(op string) {
	if m == nil {
		return
	}
	m.ContentOps.WithLabelValues(op).Inc()
}

// MemoryQuery 记录记忆查询
func (m *Metrics) MemoryQuery(scope string, incomplete bool) {
	if m == nil {
		return
	}
	result := "complete"
	if incomplete {
		result = "incomplete"
	}
	m.MemoryQueries.WithLabelValues(scope, result).Inc()
}
