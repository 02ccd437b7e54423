package interlock

import "sort"

// CalibrationPoint maps one raw power-sensor reading to calibrated watts.
type CalibrationPoint struct {
	Raw   float64
	Watts float64
}

// Calibration converts raw optical-power sensor units to watts using a
// piecewise-linear curve. Outside the calibrated range the nearest segment
// is extrapolated, which keeps gross over-range readings visibly large
// instead of clamping them into tolerance.
type Calibration struct {
	points []CalibrationPoint
}

// NewCalibration creates a calibration curve. Points are sorted by raw
// value. An empty point set yields the identity curve (raw units are
// already watts).
func NewCalibration(points []CalibrationPoint) *Calibration {
	sorted := make([]CalibrationPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Raw < sorted[j].Raw })
	return &Calibration{points: sorted}
}

// Watts converts a raw sensor reading to calibrated watts.
func (c *Calibration) Watts(raw float64) float64 {
	if len(c.points) == 0 {
		return raw
	}
	if len(c.points) == 1 {
		// Single-point curves scale proportionally through the origin.
		p := c.points[0]
		if p.Raw == 0 {
			return p.Watts
		}
		return raw * p.Watts / p.Raw
	}

	// Locate the surrounding segment; extrapolate from the end segments.
	i := sort.Search(len(c.points), func(i int) bool { return c.points[i].Raw >= raw })
	switch {
	case i == 0:
		i = 1
	case i == len(c.points):
		i = len(c.points) - 1
	}

	lo, hi := c.points[i-1], c.points[i]
	if hi.Raw == lo.Raw {
		return lo.Watts
	}
	frac := (raw - lo.Raw) / (hi.Raw - lo.Raw)
	return lo.Watts + frac*(hi.Watts-lo.Watts)
}
