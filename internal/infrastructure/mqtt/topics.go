package mqtt

import "fmt"

// topicPrefix roots every topic this controller publishes or consumes.
const topicPrefix = "lumacore"

// Topics builds the controller's topic strings. A zero value is usable;
// the struct exists so callers write mqtt.Topics{}.SafetyState() instead
// of scattering string literals.
type Topics struct{}

// SystemStatus is the online/offline status topic (retained, with LWT).
func (Topics) SystemStatus() string {
	return topicPrefix + "/system/status"
}

// SafetyState carries the current operating state (retained).
func (Topics) SafetyState() string {
	return topicPrefix + "/safety/state"
}

// Interlocks carries the latest interlock snapshot (retained).
func (Topics) Interlocks() string {
	return topicPrefix + "/safety/interlocks"
}

// Fault carries fault records as they are raised (retained, so a late
// subscriber sees the active fault).
func (Topics) Fault() string {
	return topicPrefix + "/safety/fault"
}

// Events carries the full event stream (not retained).
func (Topics) Events() string {
	return topicPrefix + "/events"
}

// ProtocolProgress carries execution cursor snapshots (retained).
func (Topics) ProtocolProgress() string {
	return topicPrefix + "/protocol/progress"
}

// Advisory carries advisory notices (not retained).
func (Topics) Advisory() string {
	return topicPrefix + "/safety/advisory"
}

// DeviceHealth carries per-device health reports.
func (Topics) DeviceHealth(device string) string {
	return fmt.Sprintf("%s/device/%s/health", topicPrefix, device)
}

// AllDeviceHealth is the wildcard subscription for device health.
func (Topics) AllDeviceHealth() string {
	return topicPrefix + "/device/+/health"
}
