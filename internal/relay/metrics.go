package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics 记录 Relay 与 Listener 的关键指标。
type Metrics struct {
	requests     *prometheus.CounterVec
	noActiveTab  prometheus.Counter
	inState      *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
	coalesced    prometheus.Counter
	listenerMsgs *prometheus.CounterVec
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Relay requests by message type and outcome",
		}, []string{"type", "outcome"}),
		noActiveTab: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_no_active_tab_total",
			Help: "Requests short-circuited because no tab was active",
		}),
		inState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_requests_in_state",
			Help: "Number of in-flight relay requests per state",
		}, []string{"state"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_delivery_latency_ms",
			Help:    "Latency of delivering a message to the content script (milliseconds)",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"type"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_find_coalesced_total",
			Help: "findPSBT requests served by an identical in-flight request",
		}),
		listenerMsgs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_listener_messages_total",
			Help: "Inbound content-script messages by type and result",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(m.requests, m.noActiveTab, m.inState, m.latency, m.coalesced, m.listenerMsgs)
	return m
}

func (m *Metrics) incRequest(typ MessageType, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(labelOrUnknown(string(typ)), outcome).Inc()
}

func (m *Metrics) incNoActiveTab() {
	if m == nil {
		return
	}
	m.noActiveTab.Inc()
}

func (m *Metrics) moveState(from, to State) {
	if m == nil {
		return
	}
	if from != StateIdle {
		m.inState.WithLabelValues(from.String()).Dec()
	}
	if to != StateIdle && to != StateDelivered {
		m.inState.WithLabelValues(to.String()).Inc()
	}
}

func (m *Metrics) observeLatency(typ MessageType, ms float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(labelOrUnknown(string(typ))).Observe(ms)
}

func (m *Metrics) incCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) incListener(typ, result string) {
	if m == nil {
		return
	}
	m.listenerMsgs.WithLabelValues(labelOrUnknown(typ), result).Inc()
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
