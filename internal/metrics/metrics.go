package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RoomStats 由 RoomService 实现，抓取时读取当前房间数和成员数。
type RoomStats interface {
	Stats() (rooms int, participants int)
}

// Collector 汇总实时层的 Prometheus 指标。nil Collector 的方法都是空操作，方便测试。
type Collector struct {
	registry      *prometheus.Registry
	connections   *prometheus.GaugeVec
	eventsIn      *prometheus.CounterVec
	framesRelayed *prometheus.CounterVec
	framesDropped prometheus.Counter
}

// NewCollector 在独立的 Registry 上注册所有指标。
func NewCollector(stats RoomStats) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "studysphere",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open websocket connections by namespace.",
		}, []string{"namespace"}),
		eventsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studysphere",
			Subsystem: "realtime",
			Name:      "events_received_total",
			Help:      "Inbound websocket events by namespace and event name.",
		}, []string{"namespace", "event"}),
		framesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studysphere",
			Subsystem: "realtime",
			Name:      "frames_sent_total",
			Help:      "Outbound frames queued to clients by event name.",
		}, []string{"event"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studysphere",
			Subsystem: "realtime",
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because a client send buffer was full.",
		}),
	}
	reg.MustRegister(c.connections, c.eventsIn, c.framesRelayed, c.framesDropped)
	reg.MustRegister(collectors.NewGoCollector())

	if stats != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "studysphere",
			Subsystem: "whiteboard",
			Name:      "rooms_open",
			Help:      "Whiteboard rooms currently open.",
		}, func() float64 {
			rooms, _ := stats.Stats()
			return float64(rooms)
		}))
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "studysphere",
			Subsystem: "whiteboard",
			Name:      "participants",
			Help:      "Participants across all open whiteboard rooms.",
		}, func() float64 {
			_, participants := stats.Stats()
			return float64(participants)
		}))
	}
	return c
}

// Handler 暴露 /metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 Registry，测试中用于读取指标。
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ConnectionOpened(namespace string) {
	if c == nil {
		return
	}
	c.connections.WithLabelValues(namespace).Inc()
}

func (c *Collector) ConnectionClosed(namespace string) {
	if c == nil {
		return
	}
	c.connections.WithLabelValues(namespace).Dec()
}

func (c *Collector) EventReceived(namespace, event string) {
	if c == nil {
		return
	}
	c.eventsIn.WithLabelValues(namespace, event).Inc()
}

func (c *Collector) FramesSent(event string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.framesRelayed.WithLabelValues(event).Add(float64(n))
}

func (c *Collector) FrameDropped() {
	if c == nil {
		return
	}
	c.framesDropped.Inc()
}
