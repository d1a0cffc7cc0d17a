// Package influxdb is the adapter's optional telemetry sink.
//
// When enabled, decoder alarms, session state transitions, and channel
// metrics are written to an InfluxDB v2 bucket using the non-blocking
// batched write API. Writes never block device operations; failures
// surface through the SetOnError callback and are logged, not
// propagated.
//
// The sink is entirely optional. When telemetry is disabled the
// adapter runs without it and nothing else changes.
package influxdb
