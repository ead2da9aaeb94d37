// Package influxdb writes MacroForge execution metrics to InfluxDB v2.
//
// Measurements:
//
//	macro_runs         tags: script, status   fields: duration_ms, taps, swipes, waits, matches, keys, steps
//	template_matches   tags: template         fields: score, found, scale
//	background_cycles  tags: action, status   fields: duration_ms
//
// Metrics are optional. When influxdb.enabled is false Connect returns
// ErrDisabled and callers run without a metrics sink. A nil *Client is
// safe to write to.
package influxdb
