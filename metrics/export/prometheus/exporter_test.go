package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	identity "github.com/kadvik/identity"
)

type fakeSource struct {
	snapshot identity.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() identity.MetricsSnapshot { return f.snapshot }

func (f *fakeSource) AuditDropped() uint64 { return f.dropped }

func testSource() *fakeSource {
	return &fakeSource{
		snapshot: identity.MetricsSnapshot{
			Counters: map[identity.MetricID]uint64{
				identity.MetricLoginSuccess:         7,
				identity.MetricRefreshReuseDetected: 2,
			},
			Histograms: map[identity.MetricID][]uint64{
				identity.MetricValidateLatency: {3, 1, 0, 0, 0, 0, 0, 1},
			},
		},
		dropped: 4,
	}
}

func TestRenderCounters(t *testing.T) {
	exporter := NewPrometheusExporterFromSource(testSource())
	out := exporter.Render()

	for _, want := range []string{
		"# HELP identity_login_success_total Successful logins.\n",
		"# TYPE identity_login_success_total counter\n",
		"identity_login_success_total 7\n",
		"identity_refresh_reuse_detected_total 2\n",
		"identity_logout_total 0\n",
		"identity_audit_dropped_total 4\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRenderHistogramIsCumulative(t *testing.T) {
	exporter := NewPrometheusExporterFromSource(testSource())
	out := exporter.Render()

	for _, want := range []string{
		"# TYPE identity_validate_latency_seconds histogram\n",
		"identity_validate_latency_seconds_bucket{le=\"0.005\"} 3\n",
		"identity_validate_latency_seconds_bucket{le=\"0.01\"} 4\n",
		"identity_validate_latency_seconds_bucket{le=\"0.5\"} 4\n",
		"identity_validate_latency_seconds_bucket{le=\"+Inf\"} 5\n",
		"identity_validate_latency_seconds_count 5\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRenderEmptySource(t *testing.T) {
	exporter := NewPrometheusExporterFromSource(&fakeSource{
		snapshot: identity.MetricsSnapshot{
			Counters:   map[identity.MetricID]uint64{},
			Histograms: map[identity.MetricID][]uint64{},
		},
	})
	if out := exporter.Render(); out != "" {
		t.Fatalf("empty source rendered %d bytes", len(out))
	}

	var nilExporter *PrometheusExporter
	if out := nilExporter.Render(); out != "" {
		t.Fatal("nil exporter rendered output")
	}
}

func TestHandlerServesExposition(t *testing.T) {
	exporter := NewPrometheusExporterFromSource(testSource())

	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "identity_login_success_total 7") {
		t.Fatal("body missing counter line")
	}
}
