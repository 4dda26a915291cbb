package identity

import (
	"testing"
	"time"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricRefreshReuseDetected)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("Value = %d, want 2", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 2 {
		t.Fatalf("snapshot login_success = %d, want 2", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricRefreshReuseDetected] != 1 {
		t.Fatalf("snapshot reuse = %d, want 1", snap.Counters[MetricRefreshReuseDetected])
	}
	if snap.Counters[MetricLogout] != 0 {
		t.Fatalf("untouched counter = %d, want 0", snap.Counters[MetricLogout])
	}

	// Snapshots are copies, not views.
	m.Inc(MetricLoginSuccess)
	if snap.Counters[MetricLoginSuccess] != 2 {
		t.Fatal("snapshot mutated after the fact")
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricLoginSuccess)
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled Value = %d, want 0", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("disabled snapshot has %d counters", len(snap.Counters))
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	if nilMetrics.Enabled() {
		t.Fatal("nil metrics must report disabled")
	}
}

func TestMetricsLatencyHistogram(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	samples := []struct {
		d      time.Duration
		bucket int
	}{
		{time.Millisecond, 0},
		{8 * time.Millisecond, 1},
		{20 * time.Millisecond, 2},
		{40 * time.Millisecond, 3},
		{80 * time.Millisecond, 4},
		{200 * time.Millisecond, 5},
		{400 * time.Millisecond, 6},
		{2 * time.Second, 7},
	}
	for _, s := range samples {
		m.Observe(MetricValidateLatency, s.d)
	}

	buckets := m.Snapshot().Histograms[MetricValidateLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("buckets = %d, want %d", len(buckets), histBucketCount)
	}
	for _, s := range samples {
		if buckets[s.bucket] != 1 {
			t.Fatalf("bucket %d = %d, want 1 (sample %v)", s.bucket, buckets[s.bucket], s.d)
		}
	}

	// Only the latency metric carries a histogram.
	m.Observe(MetricLoginSuccess, time.Second)
	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("Observe must not touch plain counters")
	}
}

func TestMetricsHistogramDisabledByDefault(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricValidateLatency, time.Millisecond)

	if got := m.Snapshot().Histograms; len(got) != 0 {
		t.Fatalf("histograms present without opt-in: %v", got)
	}
}

func TestMetricNames(t *testing.T) {
	ids := AllMetricIDs()
	if len(ids) != int(metricIDCount) {
		t.Fatalf("AllMetricIDs = %d, want %d", len(ids), metricIDCount)
	}

	seen := make(map[string]MetricID, len(ids))
	for _, id := range ids {
		name := id.Name()
		if name == "" || name == "unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("name %q shared by %d and %d", name, prev, id)
		}
		seen[name] = id
	}

	if MetricID(9999).Name() != "unknown" {
		t.Fatal("out-of-range id must read unknown")
	}
}
