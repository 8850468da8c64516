package metrics

import "github.com/prometheus/client_golang/prometheus"

// IngestMetrics exposes counters/histograms for the ingestion engine. All
// observe methods are nil-safe so callers can run without a registry.
type IngestMetrics struct {
	inboundTotal        *prometheus.CounterVec
	classificationTotal *prometheus.CounterVec
	ruleFiredTotal      *prometheus.CounterVec
	statusEventTotal    *prometheus.CounterVec
	outboundTotal       *prometheus.CounterVec
	pipelineLatency     prometheus.Histogram
	webhookLatency      *prometheus.HistogramVec
}

func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "ingest",
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by provider and outcome",
		}, []string{"provider", "outcome"}),
		classificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "ingest",
			Name:      "classifications_total",
			Help:      "Classifications by source tier and category",
		}, []string{"source", "category"}),
		ruleFiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "ingest",
			Name:      "routing_rules_fired_total",
			Help:      "Routing rule matches by rule name",
		}, []string{"rule"}),
		statusEventTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "ingest",
			Name:      "delivery_status_events_total",
			Help:      "Provider delivery receipts by status",
		}, []string{"status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "ingest",
			Name:      "outbound_sends_total",
			Help:      "Outbound dispatches by outcome",
		}, []string{"outcome"}),
		pipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conduit",
			Subsystem: "ingest",
			Name:      "pipeline_latency_seconds",
			Help:      "End-to-end latency of the inbound pipeline",
			Buckets:   prometheus.DefBuckets,
		}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conduit",
			Subsystem: "ingest",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook handling by form",
			Buckets:   prometheus.DefBuckets,
		}, []string{"form"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.classificationTotal, m.ruleFiredTotal,
		m.statusEventTotal, m.outboundTotal, m.pipelineLatency, m.webhookLatency)
	return m
}

func (m *IngestMetrics) ObserveInbound(provider, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *IngestMetrics) ObserveClassification(source, category string) {
	if m == nil {
		return
	}
	m.classificationTotal.WithLabelValues(source, category).Inc()
}

func (m *IngestMetrics) ObserveRuleFired(rule string) {
	if m == nil {
		return
	}
	m.ruleFiredTotal.WithLabelValues(rule).Inc()
}

func (m *IngestMetrics) ObserveStatusEvent(status string) {
	if m == nil {
		return
	}
	m.statusEventTotal.WithLabelValues(status).Inc()
}

func (m *IngestMetrics) ObserveOutbound(outcome string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(outcome).Inc()
}

func (m *IngestMetrics) ObservePipelineLatency(seconds float64) {
	if m == nil {
		return
	}
	m.pipelineLatency.Observe(seconds)
}

func (m *IngestMetrics) ObserveWebhookLatency(form string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(form).Observe(seconds)
}
