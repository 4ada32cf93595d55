package qrlink

import "testing"

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricQRIssued)
	m.Inc(MetricQRIssued)
	m.Inc(MetricPinLockout)

	if got := m.Value(MetricQRIssued); got != 2 {
		t.Fatalf("Value = %d, want 2", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricQRIssued] != 2 || snap.Counters[MetricPinLockout] != 1 {
		t.Fatalf("unexpected snapshot %v", snap.Counters)
	}
	if snap.Counters[MetricInvitationUsed] != 0 {
		t.Fatal("untouched counter must be zero")
	}
}

func TestMetricsDisabledNoOps(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricQRIssued)
	if m.Value(MetricQRIssued) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled snapshot must be empty")
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricQRIssued)
	if nilMetrics.Enabled() {
		t.Fatal("nil metrics reports enabled")
	}
}

func TestMetricsOutOfRangeID(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(metricIDCount + 5)
	if m.Value(metricIDCount+5) != 0 {
		t.Fatal("out of range id must be ignored")
	}
}
