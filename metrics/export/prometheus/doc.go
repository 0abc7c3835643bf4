// Package prometheus renders engine metrics in the Prometheus text
// exposition format.
//
// [NewExporter] reads [patAuth.Engine.MetricsSnapshot] on every scrape.
// Counters are named patauth_*_total and the Authenticate latency histogram
// is patauth_validate_latency_seconds. Nothing is registered globally;
// callers mount [Exporter.Handler] themselves.
package prometheus
