package internaldefs

import (
	"strconv"
	"strings"

	patAuth "github.com/MrEthical07/patAuth"
)

// Namespace prefixes every exported metric name.
const Namespace = "patauth"

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   patAuth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   patAuth.MetricID
	Name string
	Help string
}

var help = map[patAuth.MetricID]string{
	patAuth.MetricTokenIssued:          "Access tokens issued.",
	patAuth.MetricTokenIssueFailure:    "Failed token issuance attempts.",
	patAuth.MetricSessionEvicted:       "Sessions evicted by the per-user session cap.",
	patAuth.MetricRefreshIssued:        "Refresh tokens issued.",
	patAuth.MetricValidateSuccess:      "Authenticated requests.",
	patAuth.MetricValidateFailure:      "Rejected bearer credentials.",
	patAuth.MetricContextMismatch:      "Tokens presented from another IP or device.",
	patAuth.MetricSessionRevoked:       "Tokens whose session was no longer active.",
	patAuth.MetricRefreshSuccess:       "Successful refresh grants.",
	patAuth.MetricRefreshFailure:       "Failed refresh grants.",
	patAuth.MetricRefreshExpired:       "Refresh grants with an expired refresh token.",
	patAuth.MetricSessionDestroyed:     "Sessions destroyed.",
	patAuth.MetricDestroyAll:           "All-session revocations.",
	patAuth.MetricCleanupRemoved:       "Tokens removed by cleanup passes.",
	patAuth.MetricFederatedSuccess:     "Successful federated sign-ins.",
	patAuth.MetricFederatedFailure:     "Failed federated sign-ins.",
	patAuth.MetricFederatedUserCreated: "Users registered through federated sign-in.",
	patAuth.MetricRateLimitHit:         "Requests denied by the route rate limiter.",
	patAuth.MetricDirectoryUnavailable: "User directory calls that failed or timed out.",
	patAuth.MetricKeyReload:            "Signing key reloads.",
	patAuth.MetricValidateLatency:      "Authenticate latency.",
}

// CounterDefs lists every engine counter in MetricID order.
var CounterDefs = counterDefs()

// HistogramDefs lists the engine histograms.
var HistogramDefs = []HistogramDef{
	{ID: patAuth.MetricValidateLatency, Name: Name(patAuth.MetricValidateLatency), Help: help[patAuth.MetricValidateLatency]},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = Namespace + "_audit_dropped_total"

// BucketCount is the number of histogram buckets, the unbounded one included.
var BucketCount = len(patAuth.HistogramBounds) + 1

// HistogramBounds are the "le" labels of the buckets in seconds.
var HistogramBounds = bounds()

// HistogramBoundSuffix are HistogramBounds usable inside metric names.
var HistogramBoundSuffix = suffixes()

// Name returns the namespaced export name of id.
func Name(id patAuth.MetricID) string {
	return Namespace + "_" + id.String()
}

func counterDefs() []CounterDef {
	var out []CounterDef
	for id := patAuth.MetricID(0); id.String() != "unknown"; id++ {
		if id == patAuth.MetricValidateLatency {
			continue
		}
		out = append(out, CounterDef{ID: id, Name: Name(id), Help: help[id]})
	}
	return out
}

func bounds() []string {
	out := make([]string, 0, BucketCount)
	for _, d := range patAuth.HistogramBounds {
		out = append(out, strconv.FormatFloat(d.Seconds(), 'g', -1, 64))
	}
	return append(out, "+Inf")
}

func suffixes() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range HistogramBounds {
		if b == "+Inf" {
			out = append(out, "inf")
			continue
		}
		out = append(out, strings.ReplaceAll(b, ".", "_"))
	}
	return out
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, BucketCount)
	copy(out, raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into the cumulative form both
// exporters publish.
func CumulativeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, len(raw))
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
