package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/photarc/lumacore/internal/hal"
	"github.com/photarc/lumacore/internal/interlock"
)

// Numeric codes for interlock signal states. Fields carry codes rather
// than strings so dashboards can plot and threshold them directly.
const (
	stateCodeOK      = 0
	stateCodeFault   = 1
	stateCodeUnknown = 2
)

func stateCode(s interlock.SignalState) int64 {
	switch s {
	case interlock.StateOK:
		return stateCodeOK
	case interlock.StateFault:
		return stateCodeFault
	default:
		return stateCodeUnknown
	}
}

// WriteInterlockSample records one monitor sweep as a single point.
//
// Each signal becomes a field holding its state code, alongside the
// commanded and measured optical power. The point is timestamped with
// the sample's wall-clock time, not the write time.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteInterlockSample(st interlock.Status) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"commanded_watts":      st.CommandedWatts,
		"measured_watts":       st.MeasuredWatts,
		"uncommanded_emission": st.UncommandedEmission,
	}
	for _, id := range hal.AllSignals() {
		fields[string(id)] = stateCode(st.Signal(id).State)
	}

	point := write.NewPoint("interlock_sample", nil, fields, st.WallTime)
	c.writeAPI.WritePoint(point)
}

// WritePowerTelemetry records a commanded power change from the command path.
//
// Parameters:
//   - device: Device identifier (e.g. "laser")
//   - watts: The commanded output power
func (c *Client) WritePowerTelemetry(device string, watts float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"power_command",
		map[string]string{
			"device": device,
		},
		map[string]interface{}{
			"watts": watts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStateTransition annotates the telemetry stream with a state change.
//
// Tags carry the states so treatment windows can be selected in queries.
func (c *Client) WriteStateTransition(from string, to string, trigger string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"safety_state",
		map[string]string{
			"from":    from,
			"to":      to,
			"trigger": trigger,
		},
		map[string]interface{}{
			"value": int64(1),
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteFault annotates the telemetry stream with a fault occurrence.
func (c *Client) WriteFault(source string, signal string, severity string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"source":   source,
		"severity": severity,
	}
	if signal != "" {
		tags["signal"] = signal
	}

	point := write.NewPoint(
		"fault",
		tags,
		map[string]interface{}{
			"value": int64(1),
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements without a helper.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
