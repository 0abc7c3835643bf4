package patAuth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricTokenIssued counts access tokens minted.
	MetricTokenIssued MetricID = iota
	// MetricTokenIssueFailure counts failed issuance attempts.
	MetricTokenIssueFailure
	// MetricSessionEvicted counts sessions removed by the per-user cap.
	MetricSessionEvicted
	// MetricRefreshIssued counts refresh tokens minted and linked.
	MetricRefreshIssued
	// MetricValidateSuccess counts authenticated requests.
	MetricValidateSuccess
	// MetricValidateFailure counts rejected bearer credentials.
	MetricValidateFailure
	// MetricContextMismatch counts tokens presented from another ip or device.
	MetricContextMismatch
	// MetricSessionRevoked counts tokens whose PAT was no longer active.
	MetricSessionRevoked
	// MetricRefreshSuccess counts successful refresh grants.
	MetricRefreshSuccess
	// MetricRefreshFailure counts failed refresh grants.
	MetricRefreshFailure
	// MetricRefreshExpired counts refresh grants with an expired token.
	MetricRefreshExpired
	// MetricSessionDestroyed counts single-session revocations.
	MetricSessionDestroyed
	// MetricDestroyAll counts all-session revocations.
	MetricDestroyAll
	// MetricCleanupRemoved counts tokens removed by cleanup passes.
	MetricCleanupRemoved
	// MetricFederatedSuccess counts successful federated sign-ins.
	MetricFederatedSuccess
	// MetricFederatedFailure counts failed federated sign-ins.
	MetricFederatedFailure
	// MetricFederatedUserCreated counts users registered through federated sign-in.
	MetricFederatedUserCreated
	// MetricRateLimitHit counts requests denied by the route limiter.
	MetricRateLimitHit
	// MetricDirectoryUnavailable counts directory lookups that failed or timed out.
	MetricDirectoryUnavailable
	// MetricKeyReload counts successful signing key reloads.
	MetricKeyReload
	// MetricValidateLatency is the latency histogram of Authenticate.
	MetricValidateLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricTokenIssued:          "token_issued_total",
	MetricTokenIssueFailure:    "token_issue_failure_total",
	MetricSessionEvicted:       "session_evicted_total",
	MetricRefreshIssued:        "refresh_issued_total",
	MetricValidateSuccess:      "validate_success_total",
	MetricValidateFailure:      "validate_failure_total",
	MetricContextMismatch:      "context_mismatch_total",
	MetricSessionRevoked:       "session_revoked_total",
	MetricRefreshSuccess:       "refresh_success_total",
	MetricRefreshFailure:       "refresh_failure_total",
	MetricRefreshExpired:       "refresh_expired_total",
	MetricSessionDestroyed:     "session_destroyed_total",
	MetricDestroyAll:           "destroy_all_total",
	MetricCleanupRemoved:       "cleanup_removed_total",
	MetricFederatedSuccess:     "federated_success_total",
	MetricFederatedFailure:     "federated_failure_total",
	MetricFederatedUserCreated: "federated_user_created_total",
	MetricRateLimitHit:         "rate_limit_hit_total",
	MetricDirectoryUnavailable: "directory_unavailable_total",
	MetricKeyReload:            "key_reload_total",
	MetricValidateLatency:      "validate_latency_seconds",
}

// String returns the exported metric name without namespace.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// HistogramBounds are the upper bounds of the latency buckets. The last
// bucket is unbounded.
var HistogramBounds = []time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and the validate latency histogram.
// A nil or disabled Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters. Histograms holds
// per-bucket (not cumulative) counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns metrics configured by cfg. Latency histograms are only
// recorded when metrics are enabled too.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter id. Non-positive n is ignored.
func (m *Metrics) Add(id MetricID, n int) {
	if m == nil || !m.enabled || id >= metricIDCount || n <= 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, uint64(n))
}

// Observe records d in the histogram of id. Only MetricValidateLatency has
// a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of the counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the latency histogram when enabled.
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
		if id == MetricValidateLatency {
			continue
		}
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

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if d <= bound {
			return i
		}
	}
	return len(HistogramBounds)
}
