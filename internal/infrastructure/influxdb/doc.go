// Package influxdb provides time-series telemetry for treatment sessions.
//
// Interlock samples, commanded and measured power, and fault annotations
// are written to an InfluxDB v2 bucket through a non-blocking batched
// write API. Telemetry is advisory only: writes never block sampling or
// command issue, and write failures are surfaced through an async error
// callback rather than returned to callers.
package influxdb
