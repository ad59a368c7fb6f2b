package tabclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 暴露连接数、调用延迟与熔断次数。
type Metrics struct {
	activeConns  prometheus.Gauge
	callLatency  *prometheus.HistogramVec
	breakerTrips *prometheus.CounterVec
}

// NewMetrics 在注册器中注册指标，reg 为空时使用全局注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "psbt_bridge",
			Subsystem: "tabclient",
			Name:      "active_conns",
			Help:      "Number of open gRPC connections to content script endpoints",
		}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "psbt_bridge",
			Subsystem: "tabclient",
			Name:      "call_latency_ms",
			Help:      "Latency of content script calls in milliseconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		}, []string{"method", "result"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psbt_bridge",
			Subsystem: "tabclient",
			Name:      "breaker_trips_total",
			Help:      "Number of times an endpoint circuit breaker opened",
		}, []string{"endpoint"}),
	}
	reg.MustRegister(m.activeConns, m.callLatency, m.breakerTrips)
	return m
}

func (m *Metrics) addConn(delta float64) {
	if m == nil {
		return
	}
	m.activeConns.Add(delta)
}

func (m *Metrics) observeCall(method, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.callLatency.WithLabelValues(method, result).Observe(float64(d.Microseconds()) / 1000)
}

func (m *Metrics) incTrip(endpoint string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(endpoint).Inc()
}
