// Package metrics defines the sinks that receive recomputed DailyKPI rows.
// Implementations live in infra/metrics; several sinks can be combined with
// NewMultiSink.
package metrics
