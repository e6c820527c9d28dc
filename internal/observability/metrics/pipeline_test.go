package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.ObserveInbound()
	m.ObserveInbound()
	m.ObserveDuplicate()
	m.ObserveRateLimited()
	m.ObserveReply("direct", "sent")
	m.ObserveReply("direct", "sent")
	m.ObserveReply("escalated", "failed")
	m.ObserveGenerationFailure()
	m.ObserveHandoff()
	m.ObservePanic()
	m.ObserveDispatchLatency(0.05)

	if got := testutil.ToFloat64(m.inboundTotal); got != 2 {
		t.Errorf("inbound total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.duplicatesTotal); got != 1 {
		t.Errorf("duplicates total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.repliesTotal.WithLabelValues("direct", "sent")); got != 2 {
		t.Errorf("direct sent replies = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.repliesTotal.WithLabelValues("escalated", "failed")); got != 1 {
		t.Errorf("escalated failed replies = %v, want 1", got)
	}
}

func TestNilPipelineMetricsIsSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveInbound()
	m.ObserveDuplicate()
	m.ObserveRateLimited()
	m.ObserveReply("direct", "sent")
	m.ObserveGenerationFailure()
	m.ObserveHandoff()
	m.ObservePanic()
	m.ObserveDispatchLatency(1)
}
