// Package otel publishes engine metrics through an OpenTelemetry meter.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and an
// Int64ObservableGauge per latency bucket. One callback reads
// [patAuth.Engine.MetricsSnapshot] on each collection. The caller owns the
// MeterProvider.
package otel
