package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the inbound message
// pipeline. A nil receiver is safe everywhere, so tests can run without a
// registry.
type PipelineMetrics struct {
	inboundTotal       prometheus.Counter
	duplicatesTotal    prometheus.Counter
	rateLimitedTotal   prometheus.Counter
	repliesTotal       *prometheus.CounterVec
	generationFailures prometheus.Counter
	handoffsTotal      prometheus.Counter
	panicsTotal        prometheus.Counter
	dispatchLatency    prometheus.Histogram
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		inboundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "inbound_events_total",
			Help:      "Total inbound channel events accepted for processing",
		}),
		duplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "duplicates_dropped_total",
			Help:      "Inbound events dropped as duplicate deliveries",
		}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "rate_limited_total",
			Help:      "Inbound events dropped by the per-user rate limit",
		}),
		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "replies_total",
			Help:      "Outbound replies by authoring strategy and delivery status",
		}, []string{"strategy", "status"}),
		generationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "generation_failures_total",
			Help:      "Reply generation failures resolved with the fallback reply",
		}),
		handoffsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "handoffs_total",
			Help:      "Conversations handed off to a human",
		}),
		panicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "panics_total",
			Help:      "Panics recovered while processing inbound events",
		}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "pipeline",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of outbound reply dispatch including retries",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.inboundTotal,
		m.duplicatesTotal,
		m.rateLimitedTotal,
		m.repliesTotal,
		m.generationFailures,
		m.handoffsTotal,
		m.panicsTotal,
		m.dispatchLatency,
	)
	return m
}

func (m *PipelineMetrics) ObserveInbound() {
	if m == nil {
		return
	}
	m.inboundTotal.Inc()
}

func (m *PipelineMetrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.duplicatesTotal.Inc()
}

func (m *PipelineMetrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}

func (m *PipelineMetrics) ObserveReply(strategy, status string) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(strategy, status).Inc()
}

func (m *PipelineMetrics) ObserveGenerationFailure() {
	if m == nil {
		return
	}
	m.generationFailures.Inc()
}

func (m *PipelineMetrics) ObserveHandoff() {
	if m == nil {
		return
	}
	m.handoffsTotal.Inc()
}

func (m *PipelineMetrics) ObservePanic() {
	if m == nil {
		return
	}
	m.panicsTotal.Inc()
}

func (m *PipelineMetrics) ObserveDispatchLatency(seconds float64) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(seconds)
}
