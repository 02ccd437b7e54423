// Package mqtt wraps paho.mqtt.golang for the controller's outward-facing
// telemetry surface: retained state topics for the operating state and
// interlock snapshot, an event topic for the audit stream, and a system
// status topic with Last Will for offline detection.
//
// The safety loop never blocks on this package; publishes happen from
// event sinks and status reporters on their own goroutines.
package mqtt
