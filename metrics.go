package identity

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter. IDs are dense and stable within
// a process; exporters iterate All for names.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLockedOut
	MetricLoginThrottled
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricMFALockedOut
	MetricMFAChallengeReplay
	MetricMFATrustedBypass
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricRefreshThrottled
	MetricSessionEvicted
	MetricLogout
	MetricLogoutAll
	MetricTOTPEnrollInitiated
	MetricTOTPEnrolled
	MetricTOTPDisabled
	MetricBackupCodeUsed
	MetricBackupCodesIssued
	MetricRoleMutation
	MetricTxnConflictRetry
	MetricRegistration
	MetricPasswordChanged
	MetricPasswordResetRequest
	MetricPasswordResetConfirm
	MetricValidateLatency
	metricIDCount
)

// metricNames drives exporters; indexes match the MetricID values.
var metricNames = [metricIDCount]string{
	"login_success",
	"login_failure",
	"login_locked_out",
	"login_throttled",
	"mfa_required",
	"mfa_success",
	"mfa_failure",
	"mfa_locked_out",
	"mfa_challenge_replay",
	"mfa_trusted_bypass",
	"refresh_success",
	"refresh_failure",
	"refresh_reuse_detected",
	"refresh_throttled",
	"session_evicted",
	"logout",
	"logout_all",
	"totp_enroll_initiated",
	"totp_enrolled",
	"totp_disabled",
	"backup_code_used",
	"backup_codes_issued",
	"role_mutation",
	"txn_conflict_retry",
	"registration",
	"password_changed",
	"password_reset_request",
	"password_reset_confirm",
	"validate_latency",
}

// Name returns the stable exporter-facing name for the metric.
func (id MetricID) Name() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// AllMetricIDs lists every defined metric, in declaration order.
func AllMetricIDs() []MetricID {
	ids := make([]MetricID, metricIDCount)
	for i := range ids {
		ids[i] = MetricID(i)
	}
	return ids
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps hot counters on separate cache lines.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the engine's in-process counter set. All methods are
// lock-free and safe for concurrent use; a nil *Metrics is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a validation latency sample. Only MetricValidateLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricValidateLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

// Bucket upper bounds in milliseconds: 5, 10, 25, 50, 100, 250, 500, +Inf.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
