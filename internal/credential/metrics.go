package credential

import "github.com/prometheus/client_golang/prometheus"

// Metrics 收敛凭据缓存相关指标。
type Metrics struct {
	ops       *prometheus.CounterVec
	evictions *prometheus.CounterVec
}

// NewMetrics 构造指标集合，reg 为空时默认使用全局注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_cache_ops_total",
			Help: "Number of credential cache operations by result",
		}, []string{"op", "result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_cache_evictions_total",
			Help: "Number of lazy credential evictions",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.ops, m.evictions)
	return m
}

func (m *Metrics) incOp(op, result string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, result).Inc()
}

func (m *Metrics) incEviction(reason string) {
	if m == nil || reason == "" {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}
